// Chat CLI - command line and load-test client for the chat server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/2025tf20/KTB-LoadTest-team-20/clients/go/chat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := chat.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: chat register <name> <email> <password>")
			os.Exit(1)
		}
		resp, err := client.Register(ctx, os.Args[2], os.Args[3], os.Args[4])
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", resp.User.ID)

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat login <email> <password>")
			os.Exit(1)
		}
		resp, err := client.Login(ctx, os.Args[2], os.Args[3])
		exitOnError(err)
		exitOnError(client.SaveConfig())
		fmt.Printf("Logged in as: %s (%s)\n", resp.User.Name, resp.UserID)

	case "logout":
		exitOnError(client.Logout(ctx))
		exitOnError(client.SaveConfig())
		fmt.Println("Logged out")

	case "room":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat room <name> [participant_id...]")
			os.Exit(1)
		}
		resp, err := client.CreateRoom(ctx, os.Args[2], os.Args[3:]...)
		exitOnError(err)
		fmt.Printf("Created room: %s\n", resp.ID)

	case "join":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat join <room_id>")
			os.Exit(1)
		}
		resp, err := client.JoinRoom(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("Joined %s (%d members)\n", resp.Name, len(resp.Participants))

	case "post":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat post <room_id> <message>")
			os.Exit(1)
		}
		resp, err := client.PostMessage(ctx, os.Args[2], os.Args[3])
		exitOnError(err)
		if resp == nil {
			fmt.Println("Empty message ignored")
			return
		}
		fmt.Printf("Posted: %s\n", resp.ID)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat read <room_id>")
			os.Exit(1)
		}
		resp, err := client.GetMessages(ctx, os.Args[2], 20, 0)
		exitOnError(err)
		for _, msg := range resp.Messages {
			printMessage(msg)
		}

	case "listen":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat listen <room_id>")
			os.Exit(1)
		}
		listen(ctx, client, os.Args[2])

	case "who":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat who <user_id>")
			os.Exit(1)
		}
		resp, err := client.GetUser(ctx, os.Args[2])
		exitOnError(err)
		printJSON(resp)

	case "load":
		opts := chat.LoadOptions{
			Users:    argInt(2, 10),
			Messages: argInt(3, 100),
			Interval: time.Duration(argInt(4, 0)) * time.Millisecond,
		}
		report, err := chat.RunLoad(ctx, baseURL, opts)
		exitOnError(err)
		fmt.Println(report)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func listen(ctx context.Context, client *chat.Client, roomID string) {
	conn, err := client.Dial(ctx)
	exitOnError(err)
	defer conn.Close()

	exitOnError(conn.Join(roomID))
	_, err = conn.WaitFor(ctx, chat.EventJoinRoomSuccess)
	exitOnError(err)
	fmt.Fprintf(os.Stderr, "Listening on %s (Ctrl-C to stop)\n", roomID)

	for {
		ev, err := conn.WaitFor(ctx, chat.EventMessage)
		if ctx.Err() != nil {
			return
		}
		exitOnError(err)

		var msg chat.Message
		if err := json.Unmarshal(ev.Data, &msg); err == nil {
			printMessage(msg)
		}
	}
}

func printMessage(msg chat.Message) {
	ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
	body := msg.Content
	if msg.File != nil {
		body = fmt.Sprintf("[file] %s %s", msg.File.FileName, msg.File.FileURL)
	}
	fmt.Printf("[%s] %s: %s\n", ts, msg.Sender.Name, body)
}

func usage() {
	fmt.Println(`Chat CLI - chat server client and load generator

Usage: chat <command> [options]

Commands:
  register <name> <email> <password>   Create an account
  login <email> <password>             Log in and save the session
  logout                               End the saved session
  room <name> [participant_id...]      Create a room
  join <room_id>                       Join a room
  post <room_id> <message>             Post a message over HTTP
  read <room_id>                       Read recent messages
  listen <room_id>                     Stream messages over the socket
  who <user_id>                        Get a user profile
  load [users] [messages] [interval_ms]
                                       Run a socket load test
  health                               Check server health

Environment:
  CHAT_URL      Server URL (default: http://localhost:8080)
  CHAT_CONFIG   Config directory (default: ~/.chat)`)
}

func argInt(i, def int) int {
	if len(os.Args) <= i {
		return def
	}
	n, err := strconv.Atoi(os.Args[i])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid number: %s\n", os.Args[i])
		os.Exit(1)
	}
	return n
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
