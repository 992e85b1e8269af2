// ABOUTME: Interactive chat loop for the query-bot CLI
// ABOUTME: Slash commands for sessions, card saving with confirmation, and export

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/isugar150/query-bot/internal/api"
	"github.com/isugar150/query-bot/internal/artifact"
	"github.com/isugar150/query-bot/internal/conversation"
	"github.com/isugar150/query-bot/internal/export"
	"github.com/isugar150/query-bot/internal/gateway"
	"github.com/isugar150/query-bot/internal/query"
)

const chatHelp = `Commands:
  /new              Start a fresh conversation
  /sessions         List sessions for the current target
  /switch <id>      Load another session
  /delete <id>      Delete a session
  /run              Execute the SQL from the last answer
  /card <title>     Save the last answer as a card (overwrite asks first)
  /export <file>    Export the conversation to HTML
  /help             Show this help
  /quit             Leave`

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with a database target",
		Flags: []cli.Flag{
			targetFlag(),
			&cli.Int64Flag{Name: "session", Usage: "Resume an existing session"},
		},
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context)
			if err != nil {
				return err
			}
			defer a.close()

			if a.creds.Get() == nil {
				return api.Unauthorized("not logged in, run: query-bot login")
			}

			target, err := a.selectTarget(c.Context, c.String("target"))
			if err != nil {
				return err
			}
			if sessionID := c.Int64("session"); sessionID != 0 {
				if err := a.conv.SwitchSession(c.Context, sessionID); err != nil {
					return err
				}
				printHistory(a.conv.Snapshot())
			}

			if !target.SchemaReady {
				color.Yellow("Schema collection for %s is still running; questions will be rejected until it finishes.", target.Name)
			}

			color.Cyan("Chatting with %s (%s). /help for commands, /quit to leave.", target.Name, target.DBType)
			return chatLoop(c, a)
		},
	}
}

func chatLoop(c *cli.Context, a *app) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(color.GreenString("> "))
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil // EOF ends the session
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := runSlashCommand(c, a, reader, line)
			if err != nil {
				color.Red("%s", api.Message(err))
			}
			if quit {
				return nil
			}
			continue
		}

		resp, err := a.conv.Send(c.Context, line)
		if err != nil {
			if errors.Is(err, conversation.ErrSuperseded) {
				continue
			}
			color.Red("%s", api.Message(err))
			continue
		}

		fmt.Println(resp.Reply)
		if resp.Artifact != nil {
			color.HiBlack("card: %s", resp.Artifact.URL)
		}
	}
}

// runSlashCommand handles one /command line. The returned bool means quit.
func runSlashCommand(c *cli.Context, a *app, reader *bufio.Reader, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help":
		fmt.Println(chatHelp)
		return false, nil

	case "/new":
		a.conv.NewSession()
		fmt.Println("Started a fresh conversation.")
		return false, nil

	case "/sessions":
		summaries, err := a.conv.Sessions(c.Context)
		if err != nil {
			return false, err
		}
		if target := a.conv.Target(); target != nil {
			if err := a.db.SaveSummaries(c.Context, target.ID, summaries); err != nil {
				a.logger.Warn("could not cache session listing", "error", err)
			}
		}
		printSummaries(summaries)
		return false, nil

	case "/switch":
		sessionID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return false, api.Precondition("usage: /switch <session-id>")
		}
		if err := a.conv.SwitchSession(c.Context, sessionID); err != nil {
			return false, err
		}
		printHistory(a.conv.Snapshot())
		return false, nil

	case "/delete":
		sessionID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return false, api.Precondition("usage: /delete <session-id>")
		}
		if err := a.conv.DeleteSession(c.Context, sessionID); err != nil {
			return false, err
		}
		fmt.Printf("Deleted session %d.\n", sessionID)
		return false, nil

	case "/run":
		return false, runAnswer(c, a)

	case "/card":
		return false, saveCard(c, a, reader, arg)

	case "/export":
		if arg == "" {
			arg = fmt.Sprintf("transcript-%d.html", a.conv.SessionID())
		}
		snap := a.conv.Snapshot()
		if len(snap.Entries) == 0 {
			return false, api.Precondition("nothing to export yet")
		}
		f, err := os.Create(arg)
		if err != nil {
			return false, err
		}
		defer f.Close()
		if err := export.WriteHTML(f, &export.Transcript{
			SessionID: snap.SessionID,
			Entries:   snap.Entries,
			Artifact:  snap.Artifact,
		}); err != nil {
			return false, err
		}
		fmt.Printf("Wrote %s.\n", arg)
		return false, nil

	default:
		return false, api.Precondition("unknown command %s, try /help", cmd)
	}
}

// runAnswer executes the SQL from the newest runnable answer against the
// current target.
func runAnswer(c *cli.Context, a *app) error {
	target := a.conv.Target()
	if target == nil {
		return api.Precondition("no database target selected")
	}

	sql := lastRunnableAnswer(a.conv.Snapshot().Entries)
	if sql == "" {
		return api.Precondition("the conversation has no runnable query answer yet")
	}

	result, err := gateway.Execute(c.Context, a.gw, func(ctx context.Context, token string) (*api.QueryResult, error) {
		return a.client.Execute(ctx, token, &api.ExecuteRequest{TargetID: target.ID, SQL: sql})
	})
	if err != nil {
		return err
	}
	printQueryResult(result)
	return nil
}

// saveCard saves the SQL from the conversation's last answer as an artifact
// card. When a card already exists the user is asked before it is replaced.
func saveCard(c *cli.Context, a *app, reader *bufio.Reader, title string) error {
	snap := a.conv.Snapshot()

	// The card's query is the generated SQL, never the user's question.
	content := lastRunnableAnswer(snap.Entries)
	if content == "" {
		return api.Precondition("the conversation has no runnable query answer yet")
	}

	confirm := artifact.Confirmation{Title: title}
	if existing := a.conv.ArtifactLink(); existing != nil {
		fmt.Printf("Card %d already exists for this conversation. Overwrite? [y/N] ", existing.ID)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("Left the existing card untouched.")
			return nil
		}
		confirm.OverwriteApproved = true
	} else if title == "" {
		return api.Precondition("usage: /card <title>")
	}

	link, err := a.cards.EnsureLink(c.Context, a.conv, content, confirm)
	if err != nil {
		return err
	}
	color.Green("Saved card %d: %s", link.ID, link.URL)
	return nil
}

// lastRunnableAnswer returns the newest assistant entry whose content is a
// runnable read-only query. Prose answers and user questions never qualify.
func lastRunnableAnswer(entries []api.Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == api.RoleAssistant && query.IsReadOnly(entries[i].Content) {
			return entries[i].Content
		}
	}
	return ""
}

// printHistory renders a freshly loaded conversation.
func printHistory(snap conversation.Conversation) {
	for _, e := range snap.Entries {
		switch e.Role {
		case api.RoleUser:
			fmt.Printf("%s %s\n", color.GreenString(">"), e.Content)
		default:
			fmt.Println(e.Content)
		}
	}
	if snap.Artifact != nil {
		color.HiBlack("card: %s", snap.Artifact.URL)
	}
}
