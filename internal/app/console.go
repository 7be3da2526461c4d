package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"perp_exec/internal/domain"
	"perp_exec/internal/execution"

	"github.com/shopspring/decimal"
)

// Opener opens a position.
type Opener interface {
	Open(ctx context.Context, side domain.OrderSide, usd decimal.Decimal) (execution.Result, error)
}

// Closer flattens the position.
type Closer interface {
	Close(ctx context.Context) (execution.Result, error)
}

// Watcher runs the P&L monitor.
type Watcher interface {
	Run(ctx context.Context, th domain.PnLThresholds) (execution.MonitorResult, error)
}

// Console is the interactive operator menu.
// An interrupt while an action runs cancels that action only; at the prompt it quits.
type Console struct {
	Symbol     string
	Leverage   int
	SizeUSD    decimal.Decimal
	Thresholds domain.PnLThresholds

	Quotes    domain.QuoteSource
	Positions domain.PositionReader
	Entry     Opener
	Exit      Closer
	Monitor   Watcher

	in         io.Reader
	out        io.Writer
	outMu      sync.Mutex
	interrupts <-chan os.Signal
	logger     *slog.Logger
}

// NewConsole builds the menu over a bootstrapped application.
func NewConsole(b *Bootstrap, in io.Reader, out io.Writer, interrupts <-chan os.Signal) *Console {
	c := &Console{
		Symbol:     b.Config.Trading.Symbol,
		Leverage:   b.Config.Trading.Leverage,
		SizeUSD:    b.Config.Trading.PositionSizeUSD,
		Thresholds: b.Thresholds(),
		Quotes:     b.Feed,
		Positions:  b.Positions,
		Entry:      b.Entry,
		Exit:       b.Exit,
		Monitor:    b.Monitor,
		in:         in,
		out:        out,
		interrupts: interrupts,
		logger:     slog.Default().With("module", "console"),
	}
	b.Monitor.OnTick = c.printTick
	return c
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Run shows the menu until the operator quits, input ends, or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printBanner()
	for {
		c.printStatus(ctx)
		c.printMenu()

		var choice string
		select {
		case <-ctx.Done():
			return nil
		case <-c.interrupts:
			c.printf("\n👋 Quit\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			choice = line
		}

		switch strings.ToUpper(choice) {
		case "0":
			c.runAction(ctx, c.doClose)
		case "1":
			c.openIfFlat(ctx, domain.SideBuy)
		case "2":
			c.openIfFlat(ctx, domain.SideSell)
		case "3":
			c.runAction(ctx, c.doMonitor)
		case "Q":
			c.printf("👋 Bye\n")
			return nil
		case "":
		default:
			c.printf("❓ Invalid choice: %s\n", choice)
		}
	}
}

// runAction runs fn until it returns, cancelling it on an interrupt.
func (c *Console) runAction(ctx context.Context, fn func(context.Context)) {
	actionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(actionCtx)
	}()

	select {
	case <-done:
	case <-c.interrupts:
		c.printf("\n⛔ Interrupted, returning to menu\n")
		cancel()
		<-done
	}
}

func (c *Console) openIfFlat(ctx context.Context, side domain.OrderSide) {
	pos, err := c.Positions.Get(ctx, c.Symbol)
	if err != nil {
		c.printf("⚠️ Cannot read position: %v\n", err)
		return
	}
	if !pos.IsFlat() {
		c.printf("⚠️ Position already open (%s %s). Close it first.\n", pos.Side, pos.AbsSize())
		return
	}
	c.runAction(ctx, func(ctx context.Context) { c.doOpen(ctx, side) })
}

func (c *Console) doOpen(ctx context.Context, side domain.OrderSide) {
	label := "LONG"
	if side == domain.SideSell {
		label = "SHORT"
	}
	c.printf("\n🎯 Opening %s position with %dx leverage...\n", label, c.Leverage)

	res, err := c.Entry.Open(ctx, side, c.SizeUSD)
	if err != nil {
		c.printf("❌ %v\n", err)
		return
	}
	c.printResult("Open", res)
}

func (c *Console) doClose(ctx context.Context) {
	c.printf("\n🎯 Closing position...\n")
	res, err := c.Exit.Close(ctx)
	if err != nil {
		c.printf("❌ %v\n", err)
		return
	}
	c.printResult("Close", res)
}

func (c *Console) doMonitor(ctx context.Context) {
	c.printf("\n👀 Monitoring P&L (TP %s%% / SL %s%%)...\n", c.Thresholds.TakeProfit, c.Thresholds.StopLoss)
	res, err := c.Monitor.Run(ctx, c.Thresholds)
	if err != nil {
		c.printf("❌ %v\n", err)
		return
	}

	switch res.Outcome {
	case domain.OutcomeTakeProfit:
		c.printf("🎯 Take profit hit\n")
	case domain.OutcomeStopLoss:
		c.printf("🛑 Stop loss hit\n")
	case domain.OutcomePositionGone:
		c.printf("📊 No position to monitor\n")
	case domain.OutcomeInterrupted:
		c.printf("⛔ Monitor stopped\n")
	}
	if res.Exit != nil {
		c.printResult("Close", *res.Exit)
	}
}

func (c *Console) printResult(action string, res execution.Result) {
	if res.Outcome.Succeeded() {
		c.printf("✅ %s %s after %d attempt(s)", action, strings.ToLower(string(res.Outcome)), res.Attempts)
		if res.Reason != "" {
			c.printf(" (%s)", res.Reason)
		}
		c.printf("\n")
		return
	}
	c.printf("❌ %s %s after %d attempt(s)", action, strings.ToLower(string(res.Outcome)), res.Attempts)
	if res.Err != nil {
		c.printf(": %v", res.Err)
	}
	c.printf("\n")
}

func (c *Console) printTick(tick execution.MonitorTick) {
	p := tick.Position
	c.printf("   %s %s | P&L %s%% ($%s) | mid $%s\n",
		p.Side, p.AbsSize(), p.PnLPercent.StringFixed(2), p.UnrealizedPnL.StringFixed(2), tick.Mid.StringFixed(2))
}

func (c *Console) printBanner() {
	line := strings.Repeat("=", 60)
	c.printf("\n%s\n", line)
	c.printf("       EXTENDED PERP EXECUTION\n")
	c.printf("       Symbol: %s | Leverage: %dx\n", c.Symbol, c.Leverage)
	c.printf("       Position Size: $%s\n", c.SizeUSD)
	c.printf("       TP: %s%% | SL: %s%%\n", c.Thresholds.TakeProfit, c.Thresholds.StopLoss)
	c.printf("%s\n", line)
}

func (c *Console) printStatus(ctx context.Context) {
	pos, err := c.Positions.Get(ctx, c.Symbol)
	switch {
	case err != nil:
		c.logger.Warn("Position unavailable", slog.Any("error", err))
		c.printf("\n⚠️ Position unavailable\n")
	case pos.IsFlat():
		c.printf("\n📊 No position open\n")
	default:
		c.printf("\n📈 Current Position:\n")
		c.printf("   Type: %s\n", pos.Side)
		c.printf("   Size: %s %s\n", pos.AbsSize(), c.Symbol)
		c.printf("   Entry: $%s\n", pos.EntryPrice.StringFixed(2))
		c.printf("   P&L: %s%% ($%s)\n", pos.PnLPercent.StringFixed(2), pos.UnrealizedPnL.StringFixed(2))
	}

	if q, err := c.Quotes.CurrentQuote(); err == nil {
		c.printf("\n💱 Current Prices:\n")
		c.printf("   Bid: $%s\n", q.Bid.StringFixed(2))
		c.printf("   Ask: $%s\n", q.Ask.StringFixed(2))
		c.printf("   Spread: $%s\n", q.Spread().StringFixed(2))
	} else {
		c.printf("\n⏳ Waiting for price data...\n")
	}
}

func (c *Console) printMenu() {
	c.printf("\n📊 TRADING MENU:\n")
	c.printf("  [0] Close Position\n")
	c.printf("  [1] Open Long (Buy at Bid)\n")
	c.printf("  [2] Open Short (Sell at Ask)\n")
	c.printf("  [3] P&L Monitor (TP/SL)\n")
	c.printf("  [Q] Quit\n")
	c.printf("%s\n", strings.Repeat("-", 40))
	c.printf("Select: ")
}
