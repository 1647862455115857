// Package detector labels whale trades with what is notable about the wallet
// behind them.
package detector

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/polyinsider/whaleledger/internal/config"
	"github.com/polyinsider/whaleledger/internal/store"
)

// Flag thresholds.
const (
	NewWalletTrades  = 10
	HighPnLUSD       = 100000
	ProfitablePnLUSD = 25000
	TopRank          = 100
	MinSettled       = 3
	StrongWinRate    = 70
	WinRate          = 50
	RepeatWhales     = 5
)

// Kind identifies a flag.
type Kind string

const (
	KindNewWallet     Kind = "new_wallet"
	KindHighPnL       Kind = "high_pnl"
	KindProfitable    Kind = "profitable"
	KindTopRanked     Kind = "top_ranked"
	KindStrongWinRate Kind = "strong_win_rate"
	KindWinRate       Kind = "win_rate"
	KindRepeatWhale   Kind = "repeat_whale"
	KindBurst         Kind = "burst"
)

// Flag is one notable property of a wallet, with a human label.
type Flag struct {
	Kind  Kind
	Label string
}

var printer = message.NewPrinter(language.English)

// Detector raises wallet flags and tracks bursts of whale trades per wallet.
type Detector struct {
	burstTracker *BurstTracker
	burstCount   int
}

// NewDetector creates a new Detector.
func NewDetector(cfg *config.Config) *Detector {
	return &Detector{
		burstTracker: NewBurstTracker(cfg.BurstWindow),
		burstCount:   cfg.BurstCount,
	}
}

// Detect records the trade for burst tracking and returns the flags for the
// trade's wallet, burst last.
func (d *Detector) Detect(trade store.Trade, wallet store.Wallet) []Flag {
	flags := WalletFlags(wallet)

	if trade.WalletAddress != "" && d.burstCount > 0 {
		count := d.burstTracker.Record(trade.WalletAddress)
		if count >= d.burstCount {
			flags = append(flags, Flag{
				Kind:  KindBurst,
				Label: printer.Sprintf("BURST (%d whale trades in %v)", count, d.burstTracker.Window()),
			})
		}
	}
	return flags
}

// Cleanup forgets wallets without recent whale trades.
func (d *Detector) Cleanup() {
	d.burstTracker.Cleanup()
}

// WalletFlags evaluates the reputation and ledger rules for a wallet. An
// unknown trade count never marks a wallet as new.
func WalletFlags(w store.Wallet) []Flag {
	var flags []Flag

	if n := w.APITradeCount; n != nil && *n < NewWalletTrades {
		flags = append(flags, Flag{KindNewWallet, printer.Sprintf("NEW WALLET (%d previous trades)", *n)})
	}

	if pnl := w.LeaderboardPnL; pnl != nil {
		switch {
		case *pnl > HighPnLUSD:
			flags = append(flags, Flag{KindHighPnL, printer.Sprintf("HIGH PNL ($%.0f)", *pnl)})
		case *pnl > ProfitablePnLUSD:
			flags = append(flags, Flag{KindProfitable, printer.Sprintf("Profitable ($%.0f PnL)", *pnl)})
		}
	}

	if r := w.LeaderboardRank; r != nil && *r > 0 && *r <= TopRank {
		flags = append(flags, Flag{KindTopRanked, printer.Sprintf("TOP %d on leaderboard", *r)})
	}

	if w.Wins+w.Losses >= MinSettled {
		rate := *w.WinRate()
		switch {
		case rate >= StrongWinRate:
			flags = append(flags, Flag{KindStrongWinRate,
				printer.Sprintf("%.0f%% WIN RATE (%dW/%dL tracked)", rate, w.Wins, w.Losses)})
		case rate >= WinRate:
			flags = append(flags, Flag{KindWinRate,
				printer.Sprintf("%.0f%% win rate (%dW/%dL)", rate, w.Wins, w.Losses)})
		}
	}

	if w.TotalWhaleTrades > RepeatWhales {
		flags = append(flags, Flag{KindRepeatWhale,
			printer.Sprintf("REPEAT WHALE (%d whale trades tracked)", w.TotalWhaleTrades)})
	}

	return flags
}

// Labels returns the human labels of flags in order.
func Labels(flags []Flag) []string {
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = f.Label
	}
	return out
}
