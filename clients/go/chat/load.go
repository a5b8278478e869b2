package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"
)

// LoadOptions configures a socket load run.
type LoadOptions struct {
	Users    int           // concurrent senders, each with its own account
	Messages int           // messages per sender
	Interval time.Duration // pause between a sender's messages
	Password string
}

// LoadReport summarises a load run. Latency is measured from send until
// the sender sees its own message broadcast back.
type LoadReport struct {
	Sent      int
	Delivered int
	Rejected  map[string]int // error code -> count
	Failed    int
	Elapsed   time.Duration
	P50       time.Duration
	P95       time.Duration
	Max       time.Duration
}

func (r LoadReport) String() string {
	return fmt.Sprintf("sent=%d delivered=%d rejected=%v failed=%d elapsed=%s p50=%s p95=%s max=%s",
		r.Sent, r.Delivered, r.Rejected, r.Failed, r.Elapsed.Round(time.Millisecond),
		r.P50, r.P95, r.Max)
}

// RunLoad registers opts.Users accounts, puts them in one room and has each
// send opts.Messages over its own socket. Registration is rate limited per
// IP, so the generator's address belongs in RATE_LIMIT_WHITELIST.
func RunLoad(ctx context.Context, baseURL string, opts LoadOptions) (*LoadReport, error) {
	if opts.Users <= 0 || opts.Messages <= 0 {
		return nil, errors.New("users and messages must be positive")
	}
	if opts.Password == "" {
		opts.Password = "load-test-password"
	}

	run := time.Now().UnixNano()
	clients := make([]*Client, opts.Users)
	ids := make([]string, 0, opts.Users)
	for i := range clients {
		c := &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
		email := fmt.Sprintf("load-%d-%d@example.com", run, i)
		if _, err := c.Register(ctx, fmt.Sprintf("load-%d", i), email, opts.Password); err != nil {
			return nil, fmt.Errorf("register user %d: %w", i, err)
		}
		if _, err := c.Login(ctx, email, opts.Password); err != nil {
			return nil, fmt.Errorf("login user %d: %w", i, err)
		}
		clients[i] = c
		ids = append(ids, c.UserID)
	}

	room, err := clients[0].CreateRoom(ctx, fmt.Sprintf("load-%d", run), ids[1:]...)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	var (
		mu        sync.Mutex
		report    = &LoadReport{Rejected: make(map[string]int)}
		latencies []time.Duration
		wg        sync.WaitGroup
	)

	start := time.Now()
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			res := sendLoad(ctx, c, room.ID, opts)

			mu.Lock()
			defer mu.Unlock()
			report.Sent += res.sent
			report.Delivered += len(res.latencies)
			report.Failed += res.failed
			for code, n := range res.rejected {
				report.Rejected[code] += n
			}
			latencies = append(latencies, res.latencies...)
		}(c)
	}
	wg.Wait()
	report.Elapsed = time.Since(start)

	if len(latencies) > 0 {
		slices.Sort(latencies)
		report.P50 = latencies[len(latencies)*50/100]
		report.P95 = latencies[len(latencies)*95/100]
		report.Max = latencies[len(latencies)-1]
	}
	return report, nil
}

type senderResult struct {
	sent      int
	failed    int
	rejected  map[string]int
	latencies []time.Duration
}

func sendLoad(ctx context.Context, c *Client, roomID string, opts LoadOptions) senderResult {
	res := senderResult{rejected: make(map[string]int)}

	conn, err := c.Dial(ctx)
	if err != nil {
		res.failed = opts.Messages
		return res
	}
	defer conn.Close()

	if err := conn.Join(roomID); err != nil {
		res.failed = opts.Messages
		return res
	}
	if _, err := conn.WaitFor(ctx, EventJoinRoomSuccess); err != nil {
		res.failed = opts.Messages
		return res
	}

	for i := 0; i < opts.Messages; i++ {
		if ctx.Err() != nil {
			res.failed += opts.Messages - i
			return res
		}

		sentAt := time.Now()
		if err := conn.SendText(roomID, fmt.Sprintf("load %s %d", c.UserID, i)); err != nil {
			res.failed++
			continue
		}
		res.sent++

		if err := awaitOwn(ctx, conn, c.UserID); err != nil {
			var se *SocketError
			if errors.As(err, &se) {
				res.rejected[se.Payload.Code]++
			} else {
				res.failed++
			}
		} else {
			res.latencies = append(res.latencies, time.Since(sentAt))
		}

		if opts.Interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Interval):
			}
		}
	}
	return res
}

// awaitOwn waits for the broadcast of a message sent by userID. Messages
// from other senders in the room are skipped.
func awaitOwn(ctx context.Context, conn *Conn, userID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for {
		ev, err := conn.WaitFor(waitCtx, EventMessage)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return err
		}
		if msg.Sender.ID == userID {
			return nil
		}
	}
}
