package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/jmerrifield20/certledger/pkg/certid"
	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/cobra"
)

// ── generate ─────────────────────────────────────────────────────────────────

func newGenerateCmd() *cobra.Command {
	var req client.IssueRequest

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Issue a new certificate",
		Example: `  certctl generate --name "Alice Johnson" --course "Data Science Fundamentals" \
    --date 2025-10-03 --grade A+ --email alice@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Issue(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("issue certificate: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "✓ Certificate issued\n\n")
			printCertificate(out, &res.Certificate)
			if res.VerificationURL != "" {
				fmt.Fprintf(out, "Verify at:    %s\n", res.VerificationURL)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.RecipientName, "name", "", "Recipient name")
	f.StringVar(&req.CourseName, "course", "", "Course name")
	f.StringVar(&req.CompletionDate, "date", "", "Completion date (YYYY-MM-DD)")
	f.StringVar(&req.InstructorName, "instructor", "", "Instructor name")
	f.StringVar(&req.Organization, "organization", "", "Issuing organization")
	f.StringVar(&req.Grade, "grade", "", "Grade")
	f.StringVar(&req.Email, "email", "", "Recipient email")
	f.StringVar(&req.Phone, "phone", "", "Recipient phone")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// ── verify ───────────────────────────────────────────────────────────────────

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <certificate-id | verification-url | qr-json>",
		Short: "Verify a certificate",
		Long: `verify checks that a certificate exists, is active and still matches
its integrity hash. Exits 2 when the certificate is not valid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := certid.Extract(args[0])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			v, err := c.Verify(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("verify %s: %w", id, err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				if err := printJSON(out, v); err != nil {
					return err
				}
			} else {
				switch v.Status {
				case client.StatusValid:
					fmt.Fprintf(out, "✓ VALID\n\n")
					printCertificate(out, v.Certificate)
				case client.StatusCorrupted:
					fmt.Fprintf(out, "✗ CORRUPTED: %s exists but its record does not match its hash\n", id)
				default:
					fmt.Fprintf(out, "✗ INVALID: %s was not found or has been deactivated\n", id)
				}
			}
			if !v.Valid() {
				return errNotValid
			}
			return nil
		},
	}
}

// ── list ─────────────────────────────────────────────────────────────────────

func newListCmd() *cobra.Command {
	var opts client.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List certificates, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			certs, err := c.List(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list certificates: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return printJSON(out, certs)
			}
			if len(certs) == 0 {
				fmt.Fprintln(out, "No certificates found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRECIPIENT\tCOURSE\tCOMPLETED\tSTATUS")
			for _, ct := range certs {
				status := "active"
				if !ct.IsActive {
					status = "inactive"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					ct.CertificateID, ct.RecipientName, ct.CourseName, ct.CompletionDate, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&opts.IncludeInactive, "all", false, "Include deactivated certificates")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum rows to return")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Rows to skip")
	return cmd
}

// ── show ─────────────────────────────────────────────────────────────────────

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <certificate-id>",
		Short: "Show a certificate in any state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := certid.Normalize(args[0])
			c, err := newClient()
			if err != nil {
				return err
			}
			ct, err := c.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("show %s: %w", id, err)
			}
			if format == "json" {
				return printJSON(cmd.OutOrStdout(), ct)
			}
			printCertificate(cmd.OutOrStdout(), ct)
			return nil
		},
	}
}

// ── delete / restore ─────────────────────────────────────────────────────────

func newSetActiveCmd(use, short string, deactivate bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <certificate-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := certid.Normalize(args[0])
			c, err := newClient()
			if err != nil {
				return err
			}

			op := c.Restore
			if deactivate {
				op = c.Deactivate
			}
			n, err := op(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("%s %s: %w", use, id, err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return printJSON(out, map[string]any{"certificate_id": id, "affected": n})
			}
			switch {
			case n == 0 && deactivate:
				fmt.Fprintf(out, "%s is already inactive\n", id)
			case n == 0:
				fmt.Fprintf(out, "%s is already active\n", id)
			case deactivate:
				fmt.Fprintf(out, "✓ %s deactivated\n", id)
			default:
				fmt.Fprintf(out, "✓ %s restored\n", id)
			}
			return nil
		},
	}
}

// ── bulk ─────────────────────────────────────────────────────────────────────

func newBulkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk <roster.csv>",
		Short: "Issue one certificate per CSV row",
		Long: `bulk uploads a CSV roster. Columns: recipient_name, course_name,
completion_date, then optionally instructor_name, organization, grade, email,
phone. A first row naming the columns is treated as a header.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.BulkIssueCSV(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("bulk issue: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return printJSON(out, res)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tRECIPIENT\tID\tERROR")
			for _, r := range res.Results {
				id := ""
				if r.Certificate != nil {
					id = r.Certificate.CertificateID
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Index+1, r.RecipientName, id, r.Error)
			}
			for _, re := range res.RowErrors {
				fmt.Fprintf(w, "line %d\t\t\t%s\n", re.Line, re.Message)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d issued, %d failed, %d rows skipped\n", res.Succeeded, res.Failed, len(res.RowErrors))
			return nil
		},
	}
}

// ── send ─────────────────────────────────────────────────────────────────────

func newSendCmd() *cobra.Command {
	var to, method, message string

	cmd := &cobra.Command{
		Use:   "send <certificate-id>...",
		Short: "Send certificates to their recipients by email, SMS or WhatsApp",
		Example: `  certctl send CERT_1A2B3C4D
  certctl send CERT_1A2B3C4D CERT_5E6F7A8B --message "Congratulations from the whole team"
  certctl send CERT_1A2B3C4D --method whatsapp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]string, len(args))
			for i, a := range args {
				ids[i] = certid.Normalize(a)
			}
			if to != "" && (len(ids) > 1 || method != client.MethodEmail) {
				return fmt.Errorf("--to applies only to a single certificate sent by email")
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(ids) == 1 && method == client.MethodEmail && message == "" {
				res, err := c.Send(cmd.Context(), ids[0], to)
				if err != nil {
					return fmt.Errorf("send %s: %w", ids[0], err)
				}
				if format == "json" {
					return printJSON(out, res)
				}
				fmt.Fprintf(out, "✓ %s sent to %s (%d attachment(s))\n", ids[0], res.SentTo, res.Attachments)
				return nil
			}

			res, err := c.BulkSend(cmd.Context(), ids, method, message)
			if err != nil {
				return fmt.Errorf("send certificates: %w", err)
			}
			if format == "json" {
				return printJSON(out, res)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRECIPIENT\tSTATUS\tSENT TO\tERROR")
			for _, r := range res.Results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.CertificateID, r.RecipientName, r.Status, r.SentTo, r.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d sent, %d skipped, %d failed\n", res.Sent, res.Skipped, res.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Override the recipient address (single certificate, email only)")
	cmd.Flags().StringVar(&method, "method", client.MethodEmail, "Delivery method: email, sms or whatsapp")
	cmd.Flags().StringVar(&message, "message", "", "Custom message replacing the default greeting")
	return cmd
}

// ── download ─────────────────────────────────────────────────────────────────

func newDownloadCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "download <certificate-id>",
		Short: "Download the rendered certificate file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := certid.Normalize(args[0])
			c, err := newClient()
			if err != nil {
				return err
			}
			return download(cmd.Context(), c, id, outDir, cmd)
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "Directory to write the file into")
	return cmd
}

func download(ctx context.Context, c *client.Client, id, dir string, cmd *cobra.Command) error {
	tmp, err := os.CreateTemp(dir, ".certctl-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, err := c.DownloadArtifact(ctx, id, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}

	dest := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	if format == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]string{"certificate_id": id, "path": dest})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ saved %s\n", dest)
	return nil
}

// ── status ───────────────────────────────────────────────────────────────────

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server counts and features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Server:       %s\n", serverURL)
			fmt.Fprintf(out, "Certificates: %d total, %d active, %d inactive\n",
				st.Certificates.Total, st.Certificates.Active, st.Certificates.Inactive)
			fmt.Fprintf(out, "Hash scheme:  %s\n", st.HashScheme)
			fmt.Fprintf(out, "Renderer:     %s\n", st.Features.Renderer)
			fmt.Fprintf(out, "Email:        %t\n", st.Features.Email)
			fmt.Fprintf(out, "Text:         %t\n", st.Features.Text)
			fmt.Fprintf(out, "Webhooks:     %t\n", st.Features.Webhooks)
			if st.Features.Audit {
				fmt.Fprintf(out, "Audit chain:  %d entries, root %s\n", st.AuditEntries, st.AuditRoot)
			}
			return nil
		},
	}
}

// ── version ──────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the certctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "certctl %s\n", version)
		},
	}
}
