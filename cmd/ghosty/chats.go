package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	ghosty "github.com/ghosty-im/ghosty-go"
)

var (
	jsonOutput bool

	chatsCreateMembers string

	messagesLimit  int
	messagesBefore int64
)

func init() {
	chatsListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	chatsInfoCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	chatsCreateCmd.Flags().StringVar(&chatsCreateMembers, "members", "", "Comma-separated list of usernames")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", ghosty.DefaultMessageWindow, "Maximum number of messages to return")
	messagesCmd.Flags().Int64Var(&messagesBefore, "before", 0, "Only messages older than this message id")
	messagesCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")

	chatsCmd.AddCommand(chatsListCmd, chatsCreateCmd, chatsInfoCmd, chatsRenameCmd,
		chatsAddMemberCmd, chatsRemoveMemberCmd, chatsLeaveCmd, chatsDeleteCmd)
	rootCmd.AddCommand(chatsCmd, messagesCmd, sendCmd, editCmd, deleteMessageCmd)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

// ============================================================================
// chats
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List and manage chats",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.RefreshChats(ctx); err != nil {
			return err
		}
		chats := engine.Store().Chats()
		if jsonOutput {
			return printJSON(chats)
		}
		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		table := newTable("ID", "Name", "Members")
		for _, c := range chats {
			names := lo.Map(c.Members, func(a ghosty.Account, _ int) string { return a.Username })
			table.Append([]string{strconv.FormatInt(c.ChatID, 10), c.ChatName, strings.Join(names, ", ")})
		}
		table.Render()
		return nil
	},
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		members := lo.Compact(lo.Map(strings.Split(chatsCreateMembers, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
		res := engine.CreateChat(ctx, args[0], members)
		if err := resultError(res); err != nil {
			return err
		}
		var chat ghosty.Chat
		if err := res.Decode(&chat); err == nil && chat.ChatID != 0 {
			fmt.Printf("Created chat %d (%s)\n", chat.ChatID, args[0])
			return nil
		}
		fmt.Printf("Created chat %s\n", args[0])
		return nil
	},
}

var chatsInfoCmd = &cobra.Command{
	Use:   "info <chat-id>",
	Short: "Show a chat and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseID(args[0], "chat id")
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		res := engine.Client().Chats.Info(ctx, chatID)
		if err := resultError(res); err != nil {
			return err
		}
		if jsonOutput {
			fmt.Println(string(res.Data))
			return nil
		}
		var chat ghosty.Chat
		if err := res.Decode(&chat); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		fmt.Printf("Chat:    %s (%d)\n", chat.ChatName, chat.ChatID)
		if chat.Owner != nil {
			fmt.Printf("Owner:   %s\n", chat.Owner.Username)
		}
		fmt.Println("Members:")
		table := newTable("ID", "Username", "Display Name", "Online")
		for _, m := range chat.Members {
			table.Append([]string{strconv.FormatInt(m.AccountID, 10), m.Username, m.DisplayName, strconv.FormatBool(m.Online)})
		}
		table.Render()
		return nil
	},
}

// chatAction builds a command that runs one membership or lifecycle action
// on a chat.
func chatAction(use, short string, nargs int, run func(context.Context, *ghosty.Engine, int64, []string) *ghosty.Result, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseID(args[0], "chat id")
			if err != nil {
				return err
			}
			ctx, cancel := timeoutCtx()
			defer cancel()
			engine, err := signedIn(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := resultError(run(ctx, engine, chatID, args[1:])); err != nil {
				return err
			}
			fmt.Println(done)
			return nil
		},
	}
}

var chatsRenameCmd = chatAction("rename <chat-id> <name>", "Rename a chat", 2,
	func(ctx context.Context, e *ghosty.Engine, chatID int64, rest []string) *ghosty.Result {
		return e.RenameChat(ctx, chatID, rest[0])
	}, "Chat renamed.")

var chatsAddMemberCmd = chatAction("add-member <chat-id> <username>", "Add a user to a chat", 2,
	func(ctx context.Context, e *ghosty.Engine, chatID int64, rest []string) *ghosty.Result {
		return e.AddMember(ctx, chatID, rest[0])
	}, "Member added.")

var chatsRemoveMemberCmd = chatAction("remove-member <chat-id> <user-id>", "Remove a user from a chat", 2,
	func(ctx context.Context, e *ghosty.Engine, chatID int64, rest []string) *ghosty.Result {
		userID, err := parseID(rest[0], "user id")
		if err != nil {
			return &ghosty.Result{Errors: []ghosty.ResultError{{Kind: ghosty.KindApplication, Message: err.Error()}}}
		}
		return e.RemoveMember(ctx, chatID, userID)
	}, "Member removed.")

var chatsLeaveCmd = chatAction("leave <chat-id>", "Leave a chat", 1,
	func(ctx context.Context, e *ghosty.Engine, chatID int64, _ []string) *ghosty.Result {
		return e.LeaveChat(ctx, chatID)
	}, "Left chat.")

var chatsDeleteCmd = chatAction("delete <chat-id>", "Delete a chat you own", 1,
	func(ctx context.Context, e *ghosty.Engine, chatID int64, _ []string) *ghosty.Result {
		return e.DeleteChat(ctx, chatID)
	}, "Chat deleted.")

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show recent messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseID(args[0], "chat id")
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		res := engine.Client().Messages.List(ctx, chatID, messagesLimit, messagesBefore)
		if err := resultError(res); err != nil {
			return err
		}
		if jsonOutput {
			fmt.Println(string(res.Data))
			return nil
		}
		msgs, err := ghosty.DecodeList[ghosty.Message](res)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

func printMessage(m ghosty.Message) {
	sender := "?"
	if m.SenderUser != nil {
		sender = valueOrDefault(m.SenderUser.DisplayName, m.SenderUser.Username)
	}
	at := ""
	if m.CreatedAt != nil {
		at = *m.CreatedAt + " "
	}
	fmt.Printf("[%d] %s%s: %s\n", m.MessageID, at, sender, m.Text())
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseID(args[0], "chat id")
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := resultError(engine.OpenChat(ctx, chatID)); err != nil {
			return err
		}
		res := engine.SendMessage(ctx, strings.Join(args[1:], " "))
		if err := resultError(res); err != nil {
			return err
		}
		var msg ghosty.Message
		if err := res.Decode(&msg); err == nil && msg.MessageID != 0 {
			fmt.Printf("Sent message %d\n", msg.MessageID)
			return nil
		}
		fmt.Println("Sent.")
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <message-id> <text...>",
	Short: "Edit one of your messages",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID, err := parseID(args[0], "message id")
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := resultError(engine.EditMessage(ctx, messageID, strings.Join(args[1:], " "))); err != nil {
			return err
		}
		fmt.Println("Message edited.")
		return nil
	},
}

var deleteMessageCmd = &cobra.Command{
	Use:   "delete-message <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID, err := parseID(args[0], "message id")
		if err != nil {
			return err
		}
		ctx, cancel := timeoutCtx()
		defer cancel()
		engine, err := signedIn(ctx)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := resultError(engine.DeleteMessage(ctx, messageID)); err != nil {
			return err
		}
		fmt.Println("Message deleted.")
		return nil
	},
}
