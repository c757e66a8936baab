package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Xorababu0/tgfoldersync/internal/chatlists"
	"github.com/Xorababu0/tgfoldersync/internal/config"
	"github.com/Xorababu0/tgfoldersync/internal/db"
	"github.com/Xorababu0/tgfoldersync/internal/logger"
	"github.com/Xorababu0/tgfoldersync/internal/tdlib"
)

func main() {
	cfg, err := config.InitConfiguration()
	if err != nil {
		log.Fatal(err)
	}
	zlog := logger.New(cfg.Debug)
	defer zlog.Sync()

	mongoClient, err := db.NewClient(cfg)
	if err != nil {
		zlog.Fatal("mongo", zap.Error(err))
	}
	filterStore := db.NewFilterStore(mongoClient, "tg", cfg.Phone, zlog)

	remote := tdlib.NewService(cfg, filterStore, zlog)
	authParams := make(chan string)

	ctx := context.Background()
	if err := remote.Run(ctx, authParams); err != nil {
		zlog.Fatal("tdlib", zap.Error(err))
	}
	defer remote.Close()

	applier := chatlists.NewStoreApplier(filterStore)
	env := chatlists.Env{AppConfig: remote.AppConfig, IsPremium: remote.IsPremium}

	links := chatlists.NewLinkManager(remote, filterStore, applier, env, zlog)
	resolver := chatlists.NewInviteResolver(remote, filterStore, applier, env, nil, zlog)
	engine := chatlists.NewUpdatesEngine(cfg.AccountId, remote, filterStore, applier, env, nil,
		chatlists.DefaultUpdatesEngineSettings(cfg.Debug), zlog)

	sched, err := engine.RunScheduler(cfg.PollSchedule)
	if err != nil {
		zlog.Fatal("scheduler", zap.Error(err))
	}
	defer sched.Stop()

	runConsole(ctx, links, resolver, engine, authParams)
}

// runConsole is a line-oriented control surface over stdin. "auth <param>"
// feeds pending authorization prompts (code, password); everything else is a
// folder-sync command.
func runConsole(ctx context.Context, links *chatlists.LinkManager, resolver *chatlists.InviteResolver, engine *chatlists.UpdatesEngine, authParams chan string) {
	fmt.Println("commands: export | edit | revoke | check | join | poll | updates | accept | dismiss | leave | suggestions | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "auth":
			if len(args) == 1 {
				authParams <- args[0]
			}

		case "export":
			// export <folderId> <title> <chatId,chatId,...>
			if len(args) != 3 {
				fmt.Println("usage: export <folderId> <title> <chatIds>")
				continue
			}
			link, err := links.Export(ctx, parseFolderId(args[0]), args[1], parseIds(args[2]))
			report(err, func() { fmt.Printf("link: %s\n", link.Link()) })

		case "edit":
			// edit <folderId> <slug> <title>
			if len(args) != 3 {
				fmt.Println("usage: edit <folderId> <slug> <title>")
				continue
			}
			title := args[2]
			link, err := links.Edit(ctx, parseFolderId(args[0]), args[1], chatlists.EditLinkOptions{Title: &title})
			report(err, func() { fmt.Printf("link: %s (%s)\n", link.Link(), link.Title) })

		case "revoke":
			if len(args) != 2 {
				fmt.Println("usage: revoke <folderId> <slug>")
				continue
			}
			err := links.Revoke(ctx, parseFolderId(args[0]), args[1])
			report(err, func() { fmt.Println("revoked") })

		case "check":
			if len(args) != 1 {
				fmt.Println("usage: check <link>")
				continue
			}
			preview, err := resolver.Check(ctx, args[0])
			report(err, func() {
				fmt.Printf("folder %q, %d peers\n", preview.Title, len(preview.Peers))
				for _, row := range preview.Peers {
					marker := " "
					if row.AlreadyMember {
						marker = "*"
					}
					fmt.Printf(" %s %d %s (%d members)\n", marker, row.Peer.Id, row.Peer.Title, preview.MemberCounts[row.Peer.Id])
				}
			})

		case "join":
			// join <link> <chatId,chatId,...>
			if len(args) != 2 {
				fmt.Println("usage: join <link> <chatIds>")
				continue
			}
			res, err := resolver.Join(ctx, args[0], parseIds(args[1]))
			report(err, func() {
				fmt.Printf("joined folder %d %q, %d new chats\n", res.FolderId, res.Title, res.NewChatCount)
			})

		case "poll":
			engine.PollAllShared(ctx)
			fmt.Println("polled")

		case "updates":
			if len(args) != 1 {
				fmt.Println("usage: updates <folderId>")
				continue
			}
			engine.Poll(ctx, parseFolderId(args[0]))
			subCtx, cancel := context.WithCancel(ctx)
			upd := <-engine.Subscribe(subCtx, parseFolderId(args[0]))
			cancel()
			if upd == nil {
				fmt.Println("no pending updates")
				continue
			}
			fmt.Printf("folder %q has %d pending chats\n", upd.Title, len(upd.MissingPeers))
			for _, p := range upd.MissingPeers {
				fmt.Printf("  %d %s (%d members)\n", p.Id, p.Title, upd.MemberCounts[p.Id])
			}

		case "accept":
			// accept <folderId> <chatId,chatId,...>
			if len(args) != 2 {
				fmt.Println("usage: accept <folderId> <chatIds>")
				continue
			}
			err := engine.AcceptAvailable(ctx, &chatlists.FolderUpdates{FolderId: parseFolderId(args[0])}, parseIds(args[1]))
			report(err, func() { fmt.Println("accepted") })

		case "dismiss":
			if len(args) != 1 {
				fmt.Println("usage: dismiss <folderId>")
				continue
			}
			err := engine.Dismiss(ctx, parseFolderId(args[0]))
			report(err, func() { fmt.Println("dismissed") })

		case "leave":
			// leave <folderId> [chatId,chatId,...]
			if len(args) < 1 {
				fmt.Println("usage: leave <folderId> [chatIds]")
				continue
			}
			var ids []chatlists.EntityId
			if len(args) == 2 {
				ids = parseIds(args[1])
			}
			err := links.LeaveFolder(ctx, parseFolderId(args[0]), ids)
			report(err, func() { fmt.Println("left") })

		case "suggestions":
			if len(args) != 1 {
				fmt.Println("usage: suggestions <folderId>")
				continue
			}
			ids, err := links.LeaveSuggestions(ctx, parseFolderId(args[0]))
			report(err, func() { fmt.Printf("chats to leave: %v\n", ids) })

		case "quit":
			return

		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func report(err error, ok func()) {
	if err == nil {
		ok()
		return
	}
	var quota *chatlists.QuotaError
	if errors.As(err, &quota) {
		fmt.Printf("quota exceeded: %s, limit %d (premium: %d)\n", quota.Kind, quota.Limit, quota.PremiumLimit)
		return
	}
	fmt.Printf("error: %s\n", err)
}

func parseFolderId(s string) chatlists.FolderId {
	id, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0
	}
	return chatlists.FolderId(id)
}

func parseIds(s string) []chatlists.EntityId {
	parts := strings.Split(s, ",")
	out := make([]chatlists.EntityId, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, chatlists.EntityId(id))
	}
	return out
}
