// Command candorchat is a terminal chat client. It talks to a relay (or
// directly to a provider when a local key is configured) and keeps its
// conversation history in the configured store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/candorchat/candor-relay/internal/config"
	"github.com/candorchat/candor-relay/internal/version"
	"github.com/candorchat/candor-relay/pkg/candor"
)

func main() {
	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logger := log.New(os.Stderr, "[candorchat] ", log.LstdFlags)

	p := &printer{out: os.Stdout}
	clientCfg := candor.FromRelayConfig(cfg)
	clientCfg.Publish = p.publish
	if strings.EqualFold(cfg.LogLevel, "debug") {
		clientCfg.Logger = logger
	}

	ctx := context.Background()
	session, err := candor.NewSession(ctx, clientCfg)
	if err != nil {
		log.Fatalf("start session failed: %v", err)
	}
	defer session.Close()

	fmt.Printf("candorchat %s — /list, /switch <id>, /delete <id>, /quit\n", version.FullInfo())
	if conv := session.Orchestrator.Conversation(); len(conv.Messages) > 0 {
		fmt.Printf("resumed conversation %s (%d messages)\n", conv.ID, len(conv.Messages))
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") && !strings.HasPrefix(line, "/image") {
			if runCommand(ctx, session, line) {
				return
			}
			continue
		}

		p.reset()
		if err := session.Orchestrator.SendMessage(ctx, line, nil); err != nil {
			logger.Printf("turn failed: %v", err)
		}
		if msg := session.Orchestrator.LastError(); msg != "" {
			fmt.Println(msg)
		}
		fmt.Println()
	}
	if err := scanner.Err(); err != nil {
		logger.Printf("stdin: %v", err)
	}
}

// runCommand handles slash commands. It returns true when the loop should
// exit.
func runCommand(ctx context.Context, session *candor.Session, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/list":
		convs, err := session.Orchestrator.Conversations(ctx)
		if err != nil {
			fmt.Printf("list failed: %v\n", err)
			return false
		}
		if len(convs) == 0 {
			fmt.Println("no stored conversations")
			return false
		}
		active := session.Orchestrator.Conversation().ID
		for _, c := range convs {
			marker := " "
			if c.ID == active {
				marker = "*"
			}
			fmt.Printf("%s %s  %s  %s\n", marker, c.ID, c.UpdatedAt.Local().Format(time.DateTime), c.Title)
		}
	case "/switch":
		if len(fields) != 2 {
			fmt.Println("usage: /switch <id>")
			return false
		}
		if err := session.Orchestrator.SwitchConversation(ctx, fields[1]); err != nil {
			fmt.Printf("switch failed: %v\n", err)
			return false
		}
		replay(session.Orchestrator.Conversation())
	case "/delete":
		if len(fields) != 2 {
			fmt.Println("usage: /delete <id>")
			return false
		}
		if err := session.Orchestrator.DeleteConversation(ctx, fields[1]); err != nil {
			fmt.Printf("delete failed: %v\n", err)
		}
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return false
}

func replay(conv candor.Conversation) {
	fmt.Printf("conversation %s\n", conv.ID)
	for _, m := range conv.Messages {
		label := "you"
		if m.Role != "user" {
			label = "assistant"
		}
		fmt.Printf("%s: %s", label, m.Content)
		if m.Asset != nil {
			fmt.Printf(" [%s image]", m.Asset.Kind)
		}
		fmt.Println()
	}
}

// printer renders streamed assistant output incrementally. Snapshots carry
// the whole conversation, so it prints only the suffix beyond what it has
// already written for the in-progress message.
type printer struct {
	out        *os.File
	msgID      string
	written    int
	assetShown bool
}

func (p *printer) reset() {
	p.msgID = ""
	p.written = 0
	p.assetShown = false
}

func (p *printer) publish(conv candor.Conversation) {
	if len(conv.Messages) == 0 {
		return
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role == "user" {
		return
	}
	if last.ID != p.msgID {
		p.msgID = last.ID
		p.written = 0
		p.assetShown = false
	}
	if len(last.Content) > p.written {
		fmt.Fprint(p.out, last.Content[p.written:])
		p.written = len(last.Content)
	}
	if last.Asset != nil && !p.assetShown {
		fmt.Fprintf(p.out, "[%s image: %d bytes]", last.Asset.Kind, len(last.Asset.URL))
		p.assetShown = true
	}
}
