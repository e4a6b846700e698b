// cmd/seed issues a set of demo certificates against a running certserver.
//
// Running twice is safe: a record whose recipient, course and completion date
// already appear in the ledger is skipped. The last demo certificate is
// deactivated so both states are visible.
//
// Usage:
//
//	go run ./cmd/seed
//	CERTLEDGER_URL=http://localhost:9090 go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmerrifield20/certledger/pkg/client"
)

const defaultServer = "http://localhost:8080"

var demo = []client.IssueRequest{
	{
		RecipientName:  "Alice Johnson",
		CourseName:     "Data Science Fundamentals",
		CompletionDate: "2025-10-03",
		InstructorName: "Dr. Smith",
		Organization:   "Tech Learning Academy",
		Grade:          "A+",
		Email:          "alice@example.com",
	},
	{
		RecipientName:  "Bob Smith",
		CourseName:     "Machine Learning Basics",
		CompletionDate: "2025-10-02",
		InstructorName: "Prof. Johnson",
		Organization:   "AI Institute",
		Grade:          "A",
		Email:          "bob@example.com",
	},
	{
		RecipientName:  "Carol White",
		CourseName:     "Web Development",
		CompletionDate: "2025-10-01",
		InstructorName: "Ms. Brown",
		Organization:   "Code Academy",
		Grade:          "B+",
		Phone:          "+1-555-0100",
	},
	{
		RecipientName:  "David Lee",
		CourseName:     "Cloud Infrastructure",
		CompletionDate: "2025-09-28",
		Organization:   "Tech Learning Academy",
		Grade:          "Pass",
	},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	server := os.Getenv("CERTLEDGER_URL")
	if server == "" {
		server = defaultServer
	}

	c, err := client.New(server, client.WithTimeout(30*time.Second))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("reach %s: %w", server, err)
	}
	fmt.Printf("connected to %s (%d certificates)\n", server, st.Certificates.Total)

	existing, err := existingKeys(ctx, c)
	if err != nil {
		return fmt.Errorf("list certificates: %w", err)
	}

	var pending []client.IssueRequest
	for _, req := range demo {
		if id, ok := existing[seedKey(req.RecipientName, req.CourseName, req.CompletionDate)]; ok {
			fmt.Printf("  skip   %-16s %s\n", req.RecipientName, id)
			continue
		}
		pending = append(pending, req)
	}

	if len(pending) > 0 {
		res, err := c.BulkIssue(ctx, pending)
		if err != nil {
			return fmt.Errorf("bulk issue: %w", err)
		}
		for _, r := range res.Results {
			if r.Certificate == nil {
				fmt.Printf("  FAIL   %-16s %s\n", r.RecipientName, r.Error)
				continue
			}
			fmt.Printf("  issue  %-16s %s\n", r.RecipientName, r.Certificate.CertificateID)
			existing[seedKey(r.Certificate.RecipientName, r.Certificate.CourseName, r.Certificate.CompletionDate)] = r.Certificate.CertificateID
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d demo certificate(s) failed to issue", res.Failed)
		}
	}

	last := demo[len(demo)-1]
	if id, ok := existing[seedKey(last.RecipientName, last.CourseName, last.CompletionDate)]; ok {
		if _, err := c.Deactivate(ctx, id); err != nil {
			return fmt.Errorf("deactivate %s: %w", id, err)
		}
		fmt.Printf("  revoke %-16s %s\n", last.RecipientName, id)
	}

	fmt.Println("\nseed complete")
	return nil
}

// existingKeys pages through every certificate, active or not.
func existingKeys(ctx context.Context, c *client.Client) (map[string]string, error) {
	const page = 500
	keys := make(map[string]string)
	for offset := 0; ; offset += page {
		certs, err := c.List(ctx, client.ListOptions{IncludeInactive: true, Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, ct := range certs {
			keys[seedKey(ct.RecipientName, ct.CourseName, ct.CompletionDate)] = ct.CertificateID
		}
		if len(certs) < page {
			return keys, nil
		}
	}
}

func seedKey(recipient, course, date string) string {
	return strings.ToLower(strings.TrimSpace(recipient)) + "|" +
		strings.ToLower(strings.TrimSpace(course)) + "|" + date
}
