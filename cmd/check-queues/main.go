// Command check-queues prints the depth of the notification queues and
// peeks at the messages waiting in them without consuming anything.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/edumatch/messaging/internal/awsclient"
	"github.com/edumatch/messaging/internal/config"
	"github.com/edumatch/messaging/internal/queue"
	"github.com/spf13/pflag"
)

type namedQueue struct {
	name string
	url  string
	q    queue.Inspector
}

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	peek := pflag.Int("peek", 5, "messages to show per queue (max 10)")
	timeout := pflag.Duration("timeout", 30*time.Second, "overall deadline")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.HasAWSCredentials() {
		fmt.Fprintln(os.Stderr, "AWS credentials missing: set aws.access_key_id/aws.secret_access_key or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	awsCfg, err := awsclient.Load(ctx, cfg.AWS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aws config: %v\n", err)
		os.Exit(1)
	}
	client := queue.NewSQSClient(awsCfg, cfg.AWS.Endpoint)

	var queues []namedQueue
	for _, nq := range []struct{ name, url string }{
		{queue.Notifications, cfg.Queues.NotificationsURL},
		{queue.Emails, cfg.Queues.EmailsURL},
	} {
		if nq.url == "" {
			fmt.Printf("%s: url not configured, skipped\n\n", nq.name)
			continue
		}
		queues = append(queues, namedQueue{name: nq.name, url: nq.url, q: queue.NewSQSQueue(client, nq.name, nq.url, 0)})
	}

	if err := report(ctx, os.Stdout, queues, *peek); err != nil {
		fmt.Fprintf(os.Stderr, "check-queues: %v\n", err)
		os.Exit(1)
	}
}

func report(ctx context.Context, w io.Writer, queues []namedQueue, peek int) error {
	if peek < 0 {
		peek = 0
	}
	if peek > 10 {
		peek = 10
	}
	for _, nq := range queues {
		attrs, err := nq.q.Attributes(ctx)
		if err != nil {
			return fmt.Errorf("%s attributes: %w", nq.name, err)
		}
		fmt.Fprintf(w, "== %s ==\n", nq.name)
		if nq.url != "" {
			fmt.Fprintf(w, "url:       %s\n", nq.url)
		}
		fmt.Fprintf(w, "visible:   %d\n", attrs.Visible)
		fmt.Fprintf(w, "in flight: %d\n", attrs.InFlight)
		fmt.Fprintf(w, "delayed:   %d\n", attrs.Delayed)

		if peek == 0 || attrs.Visible == 0 {
			fmt.Fprintln(w)
			continue
		}
		msgs, err := nq.q.Peek(ctx, peek)
		if err != nil {
			return fmt.Errorf("%s peek: %w", nq.name, err)
		}
		for i, m := range msgs {
			fmt.Fprintf(w, "[%d] id=%s receives=%d\n    %s\n", i+1, m.ID, m.ReceiveCount, m.Body)
		}
		fmt.Fprintln(w)
	}
	return nil
}
