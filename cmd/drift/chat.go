package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	drift "github.com/driftapp/drift-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// send
	sendGroup bool
	sendJSON  bool

	// history
	historyGroup bool
	historyLimit int
	historyJSON  bool

	// watch
	watchGroup bool

	// contacts
	contactsJSON bool

	// groups list
	groupsListJSON bool

	// groups create
	groupsCreateMembers string
	groupsCreateJSON    bool

	// conversations list
	conversationsUnread bool
	conversationsJSON   bool

	// files upload
	filesUploadMime string
	filesUploadJSON bool
)

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <user-id|group-id> <message>",
	Short: "Send a message",
	Long:  "Send a message to a user (or to a group with --group). The message goes through the optimistic pipeline: it is tracked locally until the server confirms it.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, message := args[0], args[1]
		client := getClient()

		target := drift.DirectTarget(id)
		if sendGroup {
			target = drift.GroupTarget(id)
		}

		session := drift.NewSession(client, currentUserID(), target)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		clientID, err := session.Send(ctx, message, drift.KindText, nil)
		if err != nil {
			if entry, ok := session.View().OptimisticMessage(clientID); ok {
				return fmt.Errorf("send failed: %s", entry.SendError)
			}
			return fmt.Errorf("send failed: %w", err)
		}

		if sendJSON {
			fmt.Printf("{\"clientId\":%q,\"status\":\"sent\"}\n", clientID)
			return nil
		}

		fmt.Println("Message sent.")
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <user-id|group-id>",
	Short: "Show message history for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		client := getClient()

		target := drift.DirectTarget(id)
		if historyGroup {
			target = drift.GroupTarget(id)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *drift.PageOptions
		if historyLimit > 0 {
			opts = &drift.PageOptions{Limit: historyLimit}
		}

		result, err := client.Chat().Messages.History(ctx, target, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		if historyJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var messages []drift.Message
		if err := result.Decode(&messages); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for i := range messages {
			msg := &messages[i]
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt().Format(time.RFC3339), msg.SenderID, msg.Content)
		}
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <user-id|group-id>",
	Short: "Watch a conversation live",
	Long:  "Subscribe to the live message feed for a conversation and print the merged view as it changes. Pending local messages are marked with '*', failed ones with '!'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		client := getClient()

		target := drift.DirectTarget(id)
		if watchGroup {
			target = drift.GroupTarget(id)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		session := drift.NewSession(client, currentUserID(), target)

		unsubscribe := session.View().Subscribe(func(state drift.ViewState) {
			if state.IsLoading {
				fmt.Println("(loading...)")
				return
			}
			fmt.Printf("--- %d messages ---\n", len(state.Messages))
			for _, m := range state.Messages {
				marker := " "
				if m.Failed() {
					marker = "!"
				} else if m.Pending() {
					marker = "*"
				}
				sender := m.ClientKey
				if m.Server != nil {
					sender = m.Server.SenderID
				} else if m.Optimistic != nil {
					sender = m.Optimistic.SenderID
				}
				fmt.Printf("%s [%s] %s: %s\n", marker, m.Time().Format("15:04:05"), sender, m.Content())
			}
		})
		defer unsubscribe()

		rt := client.Chat().Realtime.Connect(&drift.RealtimeConfig{
			Token:         cfg.Auth.Token,
			AutoReconnect: true,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := rt.Connect(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		defer rt.Disconnect()

		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(os.Stderr, "(reconnecting, attempt %d in %s)\n", attempt, delay)
		})

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		err = session.Watch(ctx, rt)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

// ============================================================================
// contacts
// ============================================================================

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Chat().Contacts.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		if contactsJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var contacts []drift.Contact
		if err := result.Decode(&contacts); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(contacts) == 0 {
			fmt.Println("No contacts.")
			return nil
		}

		for _, c := range contacts {
			line := fmt.Sprintf("%s (%s)", c.DisplayName, c.Username)
			if c.Status != "" {
				line += " [" + c.Status + "]"
			}
			if c.UnreadCount > 0 {
				line += fmt.Sprintf(" - %d unread", c.UnreadCount)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Send a contact request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Chat().Contacts.Request(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var data drift.ContactRequestData
		if err := result.Decode(&data); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		fmt.Printf("Contact request %s (%s)\n", data.RequestID, data.Status)
		return nil
	},
}

var contactsAcceptCmd = &cobra.Command{
	Use:   "accept <request-id>",
	Short: "Accept a contact request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Chat().Contacts.Accept(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		fmt.Println("Contact request accepted.")
		return nil
	},
}

// ============================================================================
// groups
// ============================================================================

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Chat().Groups.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		if groupsListJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var groups []drift.Group
		if err := result.Decode(&groups); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(groups) == 0 {
			fmt.Println("No groups.")
			return nil
		}

		for _, g := range groups {
			fmt.Printf("%s  %s (%d members)\n", g.ID, g.Title, len(g.Members))
		}
		return nil
	},
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		opts := &drift.CreateGroupOptions{Title: args[0]}
		if groupsCreateMembers != "" {
			for _, m := range strings.Split(groupsCreateMembers, ",") {
				m = strings.TrimSpace(m)
				if m != "" {
					opts.Members = append(opts.Members, m)
				}
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Chat().Groups.Create(ctx, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		if groupsCreateJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var group drift.Group
		if err := result.Decode(&group); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		fmt.Printf("Group created: %s (%s)\n", group.Title, group.ID)
		return nil
	},
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Chat().Conversations.List(ctx, conversationsUnread)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		if conversationsJSON {
			fmt.Println(string(result.Data))
			return nil
		}

		var convos []drift.Conversation
		if err := result.Decode(&convos); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(convos) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		for _, c := range convos {
			line := c.ID
			if c.Title != "" {
				line += "  " + c.Title
			}
			if c.UnreadCount > 0 {
				line += fmt.Sprintf("  (%d unread)", c.UnreadCount)
			}
			if c.LastMessage != nil {
				line += "  " + c.LastMessage.Content
			}
			fmt.Println(line)
		}
		return nil
	},
}

var conversationsReadCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Chat().Conversations.MarkAsRead(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		fmt.Println("Marked as read.")
		return nil
	},
}

// ============================================================================
// files
// ============================================================================

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Upload and manage files",
}

var filesUploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		var opts *drift.UploadOptions
		if filesUploadMime != "" {
			opts = &drift.UploadOptions{MimeType: filesUploadMime}
		}

		confirmed, err := client.Chat().Files.UploadFile(ctx, args[0], opts)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		if filesUploadJSON {
			fmt.Printf("{\"fileId\":%q,\"cdnUrl\":%q}\n", confirmed.FileID, confirmed.CdnURL)
			return nil
		}

		fmt.Printf("Uploaded %s (%d bytes)\n", confirmed.FileName, confirmed.FileSize)
		fmt.Printf("  File ID: %s\n", confirmed.FileID)
		fmt.Printf("  URL:     %s\n", confirmed.CdnURL)
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	// send
	sendCmd.Flags().BoolVar(&sendGroup, "group", false, "Treat the target as a group ID")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	// history
	historyCmd.Flags().BoolVar(&historyGroup, "group", false, "Treat the target as a group ID")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Maximum number of messages to return")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")

	// watch
	watchCmd.Flags().BoolVar(&watchGroup, "group", false, "Treat the target as a group ID")

	// contacts
	contactsListCmd.Flags().BoolVar(&contactsJSON, "json", false, "Output raw JSON")
	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsAcceptCmd)

	// groups
	groupsListCmd.Flags().BoolVar(&groupsListJSON, "json", false, "Output raw JSON")
	groupsCreateCmd.Flags().StringVar(&groupsCreateMembers, "members", "", "Comma-separated list of member user IDs")
	groupsCreateCmd.Flags().BoolVar(&groupsCreateJSON, "json", false, "Output raw JSON")
	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsCreateCmd)

	// conversations
	conversationsCmd.Flags().BoolVar(&conversationsUnread, "unread", false, "Show only unread conversations")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")
	conversationsCmd.AddCommand(conversationsReadCmd)

	// files
	filesUploadCmd.Flags().StringVar(&filesUploadMime, "mime", "", "Override MIME type")
	filesUploadCmd.Flags().BoolVar(&filesUploadJSON, "json", false, "Output raw JSON")
	filesCmd.AddCommand(filesUploadCmd)

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(filesCmd)
}
