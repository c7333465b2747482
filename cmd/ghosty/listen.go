package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	ghosty "github.com/ghosty-im/ghosty-go"
)

var listenChat int64

func init() {
	listenCmd.Flags().Int64Var(&listenChat, "chat", 0, "Open this chat and print its messages as they arrive")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Follow real-time events until interrupted",
	Long: "Resume the stored session, hold the push subscription and print events as they arrive.\n" +
		"The connection is recovered automatically when it drops.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			engine *ghosty.Engine
			mu     sync.Mutex
			last   int64
		)
		printNew := func() {
			mu.Lock()
			defer mu.Unlock()
			if engine == nil {
				return
			}
			for _, m := range engine.Store().Messages() {
				if m.MessageID > last {
					printMessage(m)
					last = m.MessageID
				}
			}
		}

		e, err := resume(ctx,
			ghosty.WithKeepalive(ghosty.DefaultKeepaliveInterval),
			ghosty.OnEvent(func(kind string) {
				fmt.Fprintf(os.Stderr, "event: %s\n", kind)
				printNew()
			}),
			ghosty.OnStateChange(func(s ghosty.LoopState) {
				if s == ghosty.LoopBackoff {
					fmt.Fprintln(os.Stderr, "connection lost, retrying...")
				}
			}),
			ghosty.OnReconciled(func() {
				fmt.Fprintln(os.Stderr, "reconnected")
				printNew()
			}),
		)
		if err != nil {
			return err
		}
		defer e.Close()

		mu.Lock()
		engine = e
		mu.Unlock()

		if listenChat != 0 {
			if err := resultError(e.OpenChat(ctx, listenChat)); err != nil {
				return err
			}
			printNew()
		}

		id := e.Session().Identity()
		fmt.Fprintf(os.Stderr, "Listening as %s. Press Ctrl+C to stop.\n", id.Username)
		<-ctx.Done()
		return nil
	},
}
