// Package client is the Go SDK for the certledger HTTP API.
//
//	c, err := client.New("https://certs.example.com",
//	    client.WithTimeout(5*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Issuing
//
//	res, err := c.Issue(ctx, client.IssueRequest{
//	    RecipientName:  "Alice Johnson",
//	    CourseName:     "Data Science Fundamentals",
//	    CompletionDate: "2025-10-03",
//	})
//	fmt.Println(res.Certificate.CertificateID, res.VerificationURL)
//
// A whole roster can be issued from CSV in one call; every row is reported
// individually and one bad row never stops the rest:
//
//	f, _ := os.Open("roster.csv")
//	batch, err := c.BulkIssueCSV(ctx, f)
//
// # Verifying
//
// Verification is a query, not an error path. Unknown, deactivated and
// tampered certificates all come back as a result with a Status:
//
//	v, err := c.Verify(ctx, "CERT_D5D18387")
//	if v.Valid() { ... }
//
// Calls that address one certificate return an error matching ErrNotFound
// when the server answers 404. Every other non-2xx answer is an *APIError.
package client
