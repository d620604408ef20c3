package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/stashkeep/stashkeep/internal/access"
	"github.com/stashkeep/stashkeep/internal/admin"
	"github.com/stashkeep/stashkeep/internal/cache"
	"github.com/stashkeep/stashkeep/internal/messenger"
	"github.com/stashkeep/stashkeep/internal/ratelimit"
	"github.com/stashkeep/stashkeep/internal/service"
	"github.com/stashkeep/stashkeep/internal/session"
	"github.com/stashkeep/stashkeep/internal/store"
)

const pollTimeout = 50 * time.Second

// floodLimit caps inbound messages per user; excess is dropped with one
// warning per window.
var floodLimit = &ratelimit.Config{
	RequestsPerWindow: 20,
	Window:            10 * time.Second,
	KeyPrefix:         "flood:",
}

// bot is the thin command layer: it parses inbound updates and renders
// service results back as messages. All real behavior lives in the
// service packages.
type bot struct {
	api    *messenger.APIClient
	svc    *service.Service
	panel  *admin.Service
	guard  *ratelimit.Limiter
	logger *slog.Logger
}

func newBot(api *messenger.APIClient, svc *service.Service, panel *admin.Service, logger *slog.Logger) *bot {
	return &bot{
		api:    api,
		svc:    svc,
		panel:  panel,
		guard:  ratelimit.New(cache.New(floodLimit.Window, time.Minute), floodLimit),
		logger: logger.With("component", "bot"),
	}
}

// run long-polls for updates until ctx is cancelled. Messages are handled
// concurrently; the service serializes per user.
func (b *bot) run(ctx context.Context) error {
	var offset int64
	for {
		updates, err := b.api.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if wait, ok := messenger.AsRateLimited(err); ok {
				if wait <= 0 {
					wait = 5 * time.Second
				}
				b.logger.Warn("poll rate limited", "wait", wait)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
				continue
			}
			b.logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			if upd.Message == nil || upd.Message.From == nil {
				continue
			}
			go b.handle(ctx, upd.Message)
		}
	}
}

func (b *bot) handle(ctx context.Context, msg *messenger.Message) {
	from := msg.From
	if res, err := b.guard.AllowUser(ctx, from.ID); err == nil && !res.Allowed {
		if res.Count == floodLimit.RequestsPerWindow+1 {
			b.reply(ctx, msg.Chat.ID, "Too many messages, slow down.")
		}
		return
	}
	if err := b.svc.RegisterContact(ctx, &store.User{
		ID:        from.ID,
		Username:  from.Username,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}); err != nil {
		b.logger.Error("register contact failed", "user_id", from.ID, "error", err)
	}

	switch {
	case strings.HasPrefix(msg.Text, "/"):
		b.reply(ctx, msg.Chat.ID, b.command(ctx, from.ID, msg.Chat.ID, msg.Text))
	default:
		if item, ok := msg.Payload(); ok {
			b.handleUpload(ctx, from.ID, msg.Chat.ID, item)
			return
		}
		if msg.Text != "" {
			b.reply(ctx, msg.Chat.ID, b.freeText(ctx, from.ID, msg.Chat.ID, msg.Text))
		}
	}
}

func (b *bot) handleUpload(ctx context.Context, userID, chatID int64, item *store.Item) {
	if b.svc.CurrentMode(userID) == session.ModeIDLookup {
		out, err := b.svc.LookupID(userID, item.Kind, item.FileRef)
		if err != nil {
			b.reply(ctx, chatID, renderErr(err))
			return
		}
		b.reply(ctx, chatID, out)
		return
	}
	if b.svc.CurrentMode(userID) == session.ModeDelete {
		n, err := b.svc.DeleteByFileRef(ctx, userID, item.FileRef)
		if err != nil {
			b.reply(ctx, chatID, renderErr(err))
			return
		}
		b.reply(ctx, chatID, fmt.Sprintf("Removed %d matching item(s).", n))
		return
	}

	res, err := b.svc.SaveItem(ctx, userID, chatID, item)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMode) {
			b.reply(ctx, chatID, "No active collection. Use /new to start one or /add <id> to continue an existing one.")
			return
		}
		b.reply(ctx, chatID, renderErr(err))
		return
	}
	if res.Duplicate {
		b.reply(ctx, chatID, "Skipped: that file is already in the collection.")
	}
	// Progress for non-duplicates is reported by the throttled batch status.
}

// freeText routes a plain message by the user's current mode.
func (b *bot) freeText(ctx context.Context, userID, chatID int64, text string) string {
	switch b.svc.CurrentMode(userID) {
	case session.ModeNamingCollection:
		col, err := b.svc.NameCollection(ctx, userID, text)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Collection %q created (id %d). Send items now; /done when finished.", col.Name, col.ID)

	case session.ModeAwaitingShareCode:
		col, err := b.svc.RedeemShareCode(ctx, userID, text)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Opened shared collection %q. Use /open %d to browse.", col.Name, col.ID)

	case session.ModeAwaitingVerify:
		res, err := b.svc.ConfirmDestructive(ctx, userID, chatID, strings.TrimSpace(text))
		if err != nil {
			return renderErr(err)
		}
		if res.Deleted {
			return "Collection deleted."
		}
		if res.Delivery != nil {
			return renderDelivery(res.Delivery.Delivered, len(res.Delivery.Failed), res.Delivery.Cancelled)
		}
		return "Done."

	case session.ModeImporting:
		res, err := b.svc.ImportSnapshot(ctx, userID, text)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Imported %d item(s) into %q (%d skipped).", res.Imported, res.Collection.Name, res.Skipped)

	case session.ModeCollecting:
		// Plain text while collecting becomes a text item.
		res, err := b.svc.SaveItem(ctx, userID, chatID, &store.Item{Kind: store.KindText, Caption: text})
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Saved note (%d in this batch).", res.Count)
	}
	return "Not sure what to do with that. Try /help."
}

func (b *bot) command(ctx context.Context, userID, chatID int64, text string) string {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		return helpText

	case "/cancel":
		b.svc.Cancel(userID)
		return "Cancelled. Back to the start."

	case "/new":
		b.svc.StartNewCollection(userID)
		return "Send a name for the new collection."

	case "/list":
		cols, err := b.svc.ListCollections(ctx, userID)
		if err != nil {
			return renderErr(err)
		}
		return renderCollections(cols)

	case "/add":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /add <collection-id>"
		}
		col, err := b.svc.ResumeCollecting(ctx, userID, id)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Adding to %q. Send items; /done when finished.", col.Name)

	case "/done":
		n, err := b.svc.FinishCollecting(ctx, userID)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Saved %d item(s).", n)

	case "/open":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /open <collection-id> [share-code]"
		}
		code := ""
		if len(args) > 1 {
			code = args[1]
		}
		page, err := b.svc.Browse(ctx, userID, id, 0, code)
		if err != nil {
			return renderErr(err)
		}
		return renderPage(page)

	case "/page":
		n, err := argID(args, 0)
		if err != nil {
			return "Usage: /page <number>"
		}
		cur, ok := b.svc.CurrentBrowse(userID)
		if !ok {
			return "Open a collection first with /open."
		}
		// Page numbers are 1-based for humans.
		page, err := b.svc.Browse(ctx, userID, cur, int(n)-1, "")
		if err != nil {
			return renderErr(err)
		}
		return renderPage(page)

	case "/send":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /send <collection-id>"
		}
		req, err := b.svc.RequestDestructive(ctx, userID, id, access.OpSendCollection)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Sending everything in collection %d. Type %s to confirm.", id, req.Code)

	case "/delete":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /delete <collection-id>"
		}
		req, err := b.svc.RequestDestructive(ctx, userID, id, access.OpDeleteCollection)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("This permanently deletes collection %d. Type %s to confirm.", id, req.Code)

	case "/delmode":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /delmode <collection-id>"
		}
		if err := b.svc.StartDeleteMode(ctx, userID, id); err != nil {
			return renderErr(err)
		}
		return "Delete mode armed: forward an item to remove it, or /delitem <item-id>. /cancel to stop."

	case "/delitem":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /delitem <item-id>"
		}
		if err := b.svc.DeleteItem(ctx, userID, id); err != nil {
			return renderErr(err)
		}
		return "Item removed."

	case "/share":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /share <collection-id>"
		}
		sc, err := b.svc.CreateShare(ctx, userID, id)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Share code for collection %d: %s\nAnyone with this code can view the collection. /revoke %d disables it.", id, sc.Code, id)

	case "/revoke":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /revoke <collection-id>"
		}
		n, err := b.svc.RevokeShare(ctx, userID, id)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Revoked %d share code(s).", n)

	case "/sharestats":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /sharestats <collection-id>"
		}
		info, err := b.svc.ShareStatus(ctx, userID, id)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Code %s: %d access(es) by %d user(s).", info.Share.Code, info.Stats.TotalAccesses, info.Stats.UniqueUsers)

	case "/sharelog":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /sharelog <collection-id>"
		}
		entries, err := b.svc.ShareAccessLog(ctx, userID, id, 0, 20)
		if err != nil {
			return renderErr(err)
		}
		if len(entries) == 0 {
			return "No accesses yet."
		}
		var sb strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&sb, "%s — user %d\n", time.Unix(e.AccessedAt, 0).Format("2006-01-02 15:04"), e.UserID)
		}
		return sb.String()

	case "/redeem":
		b.svc.StartShareEntry(userID)
		return "Send the share code."

	case "/export":
		id, err := argID(args, 0)
		if err != nil {
			return "Usage: /export <collection-id>"
		}
		snap, err := b.svc.ExportCollection(ctx, userID, id)
		if err != nil {
			return renderErr(err)
		}
		return snap

	case "/import":
		b.svc.StartImport(userID)
		return "Paste the collection export text."

	case "/id":
		b.svc.StartIDLookup(userID)
		return "Forward a media item to see its file reference."

	case "/stats", "/users", "/top", "/block", "/unblock", "/transfer", "/clone", "/broadcast":
		return b.adminCommand(ctx, userID, cmd, args, text)
	}
	return "Unknown command. Try /help."
}

func (b *bot) adminCommand(ctx context.Context, userID int64, cmd string, args []string, raw string) string {
	switch cmd {
	case "/stats":
		stats, err := b.panel.Stats(ctx, userID)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Users: %d\nCollections: %d\nItems: %d\nStored: %d bytes",
			stats.Users, stats.Collections, stats.Items, stats.TotalBytes)

	case "/users":
		users, err := b.panel.ListUsers(ctx, userID, 0, 50)
		if err != nil {
			return renderErr(err)
		}
		var sb strings.Builder
		for _, u := range users {
			flag := ""
			if u.Blocked {
				flag = " [blocked]"
			}
			fmt.Fprintf(&sb, "%d %s%s\n", u.ID, u.Username, flag)
		}
		if sb.Len() == 0 {
			return "No users yet."
		}
		return sb.String()

	case "/top":
		ranked, err := b.panel.TopCollections(ctx, userID, 10)
		if err != nil {
			return renderErr(err)
		}
		if len(ranked) == 0 {
			return "No collections yet."
		}
		var sb strings.Builder
		sb.WriteString("Largest collections:\n")
		for i, rc := range ranked {
			fmt.Fprintf(&sb, "%d. %s (owner %d) — %d items\n", i+1, rc.Collection.Name, rc.Collection.OwnerID, rc.ItemCount)
		}
		return sb.String()

	case "/block", "/unblock":
		id, err := argID(args, 0)
		if err != nil {
			return fmt.Sprintf("Usage: %s <user-id>", cmd)
		}
		if err := b.panel.SetBlocked(ctx, userID, id, cmd == "/block"); err != nil {
			return renderErr(err)
		}
		return "Done."

	case "/transfer":
		colID, err1 := argID(args, 0)
		newOwner, err2 := argID(args, 1)
		if err1 != nil || err2 != nil {
			return "Usage: /transfer <collection-id> <new-owner-id>"
		}
		if err := b.panel.Transfer(ctx, userID, colID, newOwner); err != nil {
			return renderErr(err)
		}
		return "Collection transferred."

	case "/clone":
		colID, err1 := argID(args, 0)
		toUser, err2 := argID(args, 1)
		if err1 != nil || err2 != nil {
			return "Usage: /clone <collection-id> <to-user-id>"
		}
		clone, err := b.panel.Clone(ctx, userID, colID, toUser)
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Cloned as %q (id %d).", clone.Name, clone.ID)

	case "/broadcast":
		_, msg, ok := strings.Cut(raw, " ")
		if !ok || strings.TrimSpace(msg) == "" {
			return "Usage: /broadcast <message>"
		}
		res, err := b.panel.Broadcast(ctx, userID, strings.TrimSpace(msg))
		if err != nil {
			return renderErr(err)
		}
		return fmt.Sprintf("Broadcast sent to %d user(s), %d failed.", res.Sent, len(res.Failed))
	}
	return "Unknown command."
}

func (b *bot) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.api.SendText(ctx, chatID, text); err != nil {
		b.logger.Warn("reply failed", "chat_id", chatID, "error", err)
	}
}

func argID(args []string, i int) (int64, error) {
	if len(args) <= i {
		return 0, errors.New("missing argument")
	}
	return strconv.ParseInt(args[i], 10, 64)
}

func renderErr(err error) string {
	var pd *access.PermissionDeniedError
	switch {
	case errors.As(err, &pd):
		switch pd.Reason {
		case access.ReasonBlocked:
			return "You are blocked from using this bot."
		case access.ReasonNotOwner:
			return "That collection belongs to someone else."
		case access.ReasonInvalidCode:
			return "Invalid code."
		case access.ReasonExpiredCode:
			return "That code has expired or been revoked."
		case access.ReasonCodeAlreadyUsed:
			return "That code was already used. Start the action again."
		case access.ReasonNotFound:
			return "No such collection."
		}
		return "Permission denied."
	case errors.Is(err, service.ErrInvalidMode):
		return "That action does not fit what we are doing right now. /cancel to start over."
	case errors.Is(err, store.ErrNotFound):
		return "Not found."
	case errors.Is(err, store.ErrAlreadyExists):
		return "You already have a collection with that name."
	case errors.Is(err, admin.ErrNotAdmin):
		return "Admins only."
	case errors.Is(err, admin.ErrCannotBlockAdmin):
		return "Admins cannot be blocked."
	}
	return "Something went wrong: " + err.Error()
}

func renderCollections(cols []*store.Collection) string {
	if len(cols) == 0 {
		return "No collections yet. /new to create one."
	}
	var sb strings.Builder
	sb.WriteString("Your collections:\n")
	for _, c := range cols {
		fmt.Fprintf(&sb, "%d. %s\n", c.ID, c.Name)
	}
	sb.WriteString("\n/open <id> to browse, /add <id> to continue adding.")
	return sb.String()
}

func renderPage(p *service.Page) string {
	var sb strings.Builder
	sb.WriteString(p.Header())
	sb.WriteString("\n")
	for _, it := range p.Items {
		label := it.Caption
		if label == "" {
			label = it.FileName
		}
		if label == "" {
			label = it.FileRef
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n", it.Seq, it.Kind, label)
	}
	if p.TotalPages > 1 {
		fmt.Fprintf(&sb, "\nPage %d/%d — /page <n> to jump.", p.Number+1, p.TotalPages)
	}
	return sb.String()
}

func renderDelivery(delivered, failed int, cancelled bool) string {
	if cancelled {
		return fmt.Sprintf("Sending cancelled after %d item(s).", delivered)
	}
	if failed == 0 {
		return fmt.Sprintf("Sent %d item(s).", delivered)
	}
	return fmt.Sprintf("Sent %d item(s); %d failed.", delivered, failed)
}

const helpText = `stashkeep — collect, organize, share.

/new — create a collection
/add <id> — add items to a collection
/done — finish adding
/list — your collections
/open <id> [code] — browse a collection
/page <n> — jump to a page
/send <id> — send all items back (confirmation required)
/delete <id> — delete a collection (confirmation required)
/delmode <id> — remove single items
/share <id> — create a share code
/revoke <id> — revoke share codes
/sharestats <id> — share usage
/sharelog <id> — recent share accesses
/redeem — enter a share code
/export <id> — export as text
/import — import an export
/id — look up a file reference
/cancel — stop whatever is in progress`
