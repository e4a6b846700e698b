package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmerrifield20/certledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultServer = "http://localhost:8080"

// errNotValid marks a verify whose outcome was not valid. It maps to exit code 2.
var errNotValid = errors.New("certificate is not valid")

var (
	serverURL string
	cfgFile   string
	format    string
	timeout   time.Duration
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNotValid):
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func newRootCmd() *cobra.Command {
	serverURL, cfgFile, format, timeout = "", "", "text", 10*time.Second

	root := &cobra.Command{
		Use:   "certctl",
		Short: "Certificate ledger CLI",
		Long: `certctl issues, verifies and manages completion certificates on a
certledger server.

The server URL is taken from --server, then CERTCTL_SERVER, then
server_url in ~/.certctl/config.yaml, then ` + defaultServer + `.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			} else if home, err := os.UserHomeDir(); err == nil {
				v.AddConfigPath(filepath.Join(home, ".certctl"))
				v.SetConfigName("config")
				v.SetConfigType("yaml")
			}
			v.SetEnvPrefix("certctl")
			v.AutomaticEnv()
			if err := v.BindEnv("server_url", "CERTCTL_SERVER"); err != nil {
				return err
			}
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if cfgFile != "" || !errors.As(err, &notFound) {
					return fmt.Errorf("read config: %w", err)
				}
			}

			if serverURL == "" {
				serverURL = v.GetString("server_url")
			}
			if serverURL == "" {
				serverURL = defaultServer
			}
			if format != "text" && format != "json" {
				return fmt.Errorf("--format must be text or json, got %q", format)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.certctl/config.yaml)")
	pf.StringVar(&serverURL, "server", "", "certledger server URL (default "+defaultServer+")")
	pf.StringVar(&format, "format", "text", "Output format: text or json")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	root.AddCommand(
		newGenerateCmd(),
		newVerifyCmd(),
		newListCmd(),
		newShowCmd(),
		newSetActiveCmd("delete", "Deactivate a certificate (soft delete)", true),
		newSetActiveCmd("restore", "Reactivate a deactivated certificate", false),
		newBulkCmd(),
		newSendCmd(),
		newDownloadCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, client.WithTimeout(timeout))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCertificate(w io.Writer, c *client.Certificate) {
	status := "active"
	if !c.IsActive {
		status = "inactive"
	}
	fmt.Fprintf(w, "ID:           %s\n", c.CertificateID)
	fmt.Fprintf(w, "Recipient:    %s\n", strings.TrimSpace(c.RecipientName))
	fmt.Fprintf(w, "Course:       %s\n", strings.TrimSpace(c.CourseName))
	fmt.Fprintf(w, "Completed:    %s\n", c.CompletionDate)
	fmt.Fprintf(w, "Issued:       %s\n", c.IssueDate)
	fmt.Fprintf(w, "Organization: %s\n", c.Organization)
	if c.InstructorName != "" {
		fmt.Fprintf(w, "Instructor:   %s\n", c.InstructorName)
	}
	if c.Grade != "" {
		fmt.Fprintf(w, "Grade:        %s\n", c.Grade)
	}
	if c.Email != "" {
		fmt.Fprintf(w, "Email:        %s\n", c.Email)
	}
	fmt.Fprintf(w, "Hash:         %s (%s)\n", c.IntegrityHash, c.HashScheme)
	fmt.Fprintf(w, "Status:       %s\n", status)
}
