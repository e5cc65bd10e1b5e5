// Example program demonstrating basic usage of the resp3 client: connect
// to a server, run a SET/GET round trip, and disconnect cleanly.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/l00pss/resp3"
)

func main() {
	ctx := context.Background()

	client, err := resp3.NewFromURL("redis://127.0.0.1:6379")
	if err != nil {
		log.Fatalf("parse url: %v", err)
	}
	defer client.Disconnect()

	conn, err := client.GetConnection(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	if _, err := resp3.NewCommand("SET", "greeting", "hello world").Execute(ctx, conn); err != nil {
		log.Fatalf("SET: %v", err)
	}

	result, err := resp3.NewCommand("GET", "greeting").Execute(ctx, conn)
	if err != nil {
		var respErr *resp3.ResponseError
		if errors.As(err, &respErr) {
			log.Fatalf("GET rejected by server: %s %s", respErr.Code, respErr.Message)
		}
		log.Fatalf("GET: %v", err)
	}

	fmt.Printf("greeting = %s\n", result.Bytes())
}
