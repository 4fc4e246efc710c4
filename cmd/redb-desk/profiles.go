package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// profilesCmd represents the profiles command
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage connection profiles",
	Long:  "Manage saved connection profiles. Secrets are kept in the system keyring.",
}

// profilesListCmd lists all profiles
var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			list, err := a.profiles.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No profiles saved. Use 'redb-desk profiles add' to create one.")
				return nil
			}
			fmt.Printf("%-24s %-16s %-11s %-32s %s\n", "ID", "NAME", "KIND", "TARGET", "TUNNEL")
			for _, p := range list {
				host, port, _ := p.Target()
				tunnel := "-"
				if p.TunnelEnabled() {
					tunnel = p.SSHTunnel.Host
				}
				fmt.Printf("%-24s %-16s %-11s %-32s %s\n", p.ID, p.Name, p.Kind, fmt.Sprintf("%s:%d", host, port), tunnel)
			}
			return nil
		})
	},
}

// profilesAddCmd creates or replaces a profile
var profilesAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or replace a profile",
	Long: "Add or replace a connection profile. The kind is inferred from --uri when not given.\n" +
		"Use --ask-password to enter the backend password without echo.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := profileFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			saved, err := a.profiles.Save(cmd.Context(), profile)
			if err != nil {
				return err
			}
			fmt.Printf("Saved profile %s (%s)\n", saved.ID, saved.Kind)
			return nil
		})
	},
}

// profilesShowCmd shows details of a profile
var profilesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show profile details with secrets masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			profile, err := a.profiles.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(profile.Redacted())
		})
	},
}

// profilesDeleteCmd deletes a profile
var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a profile and its secrets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force && !confirm(fmt.Sprintf("Delete profile %s?", args[0])) {
			fmt.Println("Cancelled")
			return nil
		}
		return withApp(func(a *app) error {
			if err := a.profiles.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted profile %s\n", args[0])
			return nil
		})
	},
}

// profilesTestCmd checks a profile without keeping a session
var profilesTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Test connectivity of a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			profile, err := a.profiles.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(a.manager.TestConnection(cmd.Context(), profile))
		})
	},
}

func init() {
	f := profilesAddCmd.Flags()
	f.String("name", "", "Display name")
	f.String("kind", "", "Backend kind or product (document, relational, keyvalue, logbroker, mongodb, postgres, redis, kafka)")
	f.String("host", "", "Backend host")
	f.Int("port", 0, "Backend port (default: the backend's standard port)")
	f.String("uri", "", "Connection URI, e.g. postgres://user:pw@host/db")
	f.StringSlice("brokers", nil, "Kafka bootstrap brokers (host:port)")
	f.String("username", "", "Backend user")
	f.String("password", "", "Backend password")
	f.Bool("ask-password", false, "Prompt for the backend password")
	f.String("database", "", "Default database, or numeric index for Redis")
	f.StringToString("option", nil, "Backend option key=value (repeatable)")

	f.String("ssh-host", "", "SSH bastion host; enables the tunnel")
	f.Int("ssh-port", 22, "SSH bastion port")
	f.String("ssh-user", "", "SSH user")
	f.String("ssh-password", "", "SSH password")
	f.String("ssh-key-file", "", "SSH private key file")
	f.String("ssh-passphrase", "", "Passphrase of the SSH private key")

	f.Bool("tls", false, "Enable TLS to Kafka brokers")
	f.String("tls-ca", "", "CA bundle for Kafka TLS")
	f.String("sasl-mechanism", "", "Kafka SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	f.String("sasl-user", "", "Kafka SASL user")
	f.String("sasl-password", "", "Kafka SASL password")

	profilesDeleteCmd.Flags().Bool("force", false, "Delete without confirmation")
}

// profileFromFlags builds a profile from the add command's flags.
func profileFromFlags(cmd *cobra.Command, id string) (adapter.ConnectionProfile, error) {
	f := cmd.Flags()
	get := func(name string) string {
		v, _ := f.GetString(name)
		return v
	}

	profile := adapter.ConnectionProfile{
		ID:       id,
		Name:     get("name"),
		Host:     get("host"),
		URI:      get("uri"),
		Username: get("username"),
		Password: get("password"),
		Database: get("database"),
	}
	profile.Port, _ = f.GetInt("port")
	profile.Brokers, _ = f.GetStringSlice("brokers")
	profile.Options, _ = f.GetStringToString("option")

	kindName := get("kind")
	if kindName == "" && profile.URI != "" {
		details, err := dbcapabilities.ParseConnectionString(profile.URI)
		if err != nil {
			return profile, err
		}
		profile.Kind = details.Kind
	} else {
		kind, ok := dbcapabilities.ParseKind(kindName)
		if !ok {
			return profile, fmt.Errorf("unknown kind %q", kindName)
		}
		profile.Kind = kind
	}

	if ask, _ := f.GetBool("ask-password"); ask {
		pw, err := readPassword("Password: ")
		if err != nil {
			return profile, err
		}
		profile.Password = pw
	}

	if host := get("ssh-host"); host != "" {
		profile.SSHTunnel = &adapter.SSHTunnelConfig{
			Enabled:    true,
			Host:       host,
			Username:   get("ssh-user"),
			Password:   get("ssh-password"),
			KeyFile:    get("ssh-key-file"),
			Passphrase: get("ssh-passphrase"),
		}
		profile.SSHTunnel.Port, _ = f.GetInt("ssh-port")
		if keyFile := profile.SSHTunnel.KeyFile; keyFile != "" {
			// Keep the key material in the keyring rather than pointing at a file.
			//nolint:gosec // key file chosen by the local user
			pem, err := os.ReadFile(keyFile)
			if err != nil {
				return profile, fmt.Errorf("failed to read SSH key: %w", err)
			}
			profile.SSHTunnel.PrivateKey = string(pem)
			profile.SSHTunnel.KeyFile = ""
		}
	}

	tlsOn, _ := f.GetBool("tls")
	if tlsOn || get("sasl-mechanism") != "" {
		profile.Broker = &adapter.BrokerSecurityConfig{}
		if tlsOn {
			profile.Broker.TLS = &adapter.TLSConfig{Enabled: true, CAFile: get("tls-ca")}
		}
		if mech := get("sasl-mechanism"); mech != "" {
			profile.Broker.SASL = &adapter.SASLConfig{
				Mechanism: strings.ToUpper(mech),
				Username:  get("sasl-user"),
				Password:  get("sasl-password"),
			}
		}
	}
	return profile, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// connectProfile opens a session for a saved profile and fails unless it connected.
func connectProfile(ctx context.Context, a *app, id string) error {
	res := a.manager.ConnectStored(ctx, id)
	if !res.Success {
		_ = printJSON(res)
		return fmt.Errorf("connect %s: %s", id, res.Error.Kind)
	}
	return nil
}
