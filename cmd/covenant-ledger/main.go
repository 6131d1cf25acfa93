package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"emergentminds.org/covenant/canonical"
	"emergentminds.org/covenant/compliance"
	"emergentminds.org/covenant/identity"
	"emergentminds.org/covenant/internal/cli"
	"emergentminds.org/covenant/ledger"
	"emergentminds.org/covenant/membership"
	"emergentminds.org/covenant/storage"
	"emergentminds.org/covenant/storage/bundle"
	"emergentminds.org/covenant/storage/localfs"
)

const (
	ledgerDirKey        = "ledger-dir"
	registrationFileKey = "registration-file"
	voucherCIDsKey      = "voucher-cids"
	genesisKey          = "genesis"
	cidKey              = "cid"
	reasonKey           = "reason"
	strictKey           = "strict"
	outputKey           = "output"
	inputKey            = "input"
	lockFile            = ".lock"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	return cli.Execute(rootCommand(out, errOut), args, out, errOut)
}

func rootCommand(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "covenant-ledger",
		Short: "Covenant membership ledger tool",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			_ = c.Usage()
			return cli.Usagef("a command is required")
		},
	}
	cli.AddGlobalFlags(root.PersistentFlags())
	root.PersistentFlags().String(ledgerDirKey, "", "Ledger directory (default from config, governance/ledger)")
	root.AddCommand(
		initCommand(out, errOut),
		addCommand(out, errOut),
		activateCommand(out, errOut),
		governanceCommand(out, errOut, "withdraw", "Record a member's withdrawal (active -> withdrawn)"),
		governanceCommand(out, errOut, "deactivate", "Mark a member inactive (active -> inactive)"),
		verifyCommand(out, errOut),
		showCommand(out, errOut),
		statsCommand(out, errOut),
		exportCommand(out, errOut),
		importCommand(out, errOut),
	)
	return root
}

// session is one command's view of the ledger directory.
type session struct {
	env     *cli.Env
	dir     string
	store   *ledger.Store
	archive *storage.Archive
	primary *localfs.CAS
	lock    *flock.Flock
}

func open(c *cobra.Command, out, errOut io.Writer) (*session, error) {
	env, err := cli.Load(c.Flags(), out, errOut)
	if err != nil {
		return nil, err
	}
	dir, _ := c.Flags().GetString(ledgerDirKey)
	if dir == "" {
		dir = env.Config.Ledger.Dir
	}
	s := &session{env: env, dir: dir}
	if p := env.Config.Ledger.ArchivePath(); p != "" {
		primary, err := localfs.New(p)
		if err != nil {
			return nil, cli.Fail(err)
		}
		cas, err := withReplicas(primary, env.Config.Ledger.ArchiveReplicas, env.Log)
		if err != nil {
			return nil, cli.Fail(err)
		}
		s.primary = primary
		s.archive = storage.NewArchive(cas, env.Log)
	}
	s.store = ledger.NewStore(dir, s.archive, ledger.Options{Logger: env.Log})
	return s, nil
}

// lockLedger takes the advisory lock for a mutating command. The lock is
// released by unlock.
func (s *session) lockLedger() error {
	if !s.env.Config.Ledger.Lock {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return cli.Fail(err)
	}
	s.lock = flock.New(filepath.Join(s.dir, lockFile))
	ok, err := s.lock.TryLock()
	if err != nil {
		return cli.Fail(err)
	}
	if !ok {
		return cli.Failf("ledger %s is locked by another process", s.dir)
	}
	return nil
}

func (s *session) unlock() {
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.env.Log.Warn("unlock failed", zap.Error(err))
		}
	}
}

func (s *session) load() (*ledger.Ledger, error) {
	l, err := s.store.Load()
	if err != nil {
		return nil, cli.Fail(err)
	}
	return l, nil
}

// mutate loads the ledger under the lock, applies fn and saves the result.
func (s *session) mutate(fn func(*ledger.Ledger) error) (string, error) {
	if err := s.lockLedger(); err != nil {
		return "", err
	}
	defer s.unlock()
	l, err := s.load()
	if err != nil {
		return "", err
	}
	if err := fn(l); err != nil {
		return "", cli.Fail(err)
	}
	h, err := s.store.Save(l)
	if err != nil {
		return "", cli.Fail(err)
	}
	return h, nil
}

// withReplicas fans writes to primary out to the replica directories.
func withReplicas(primary *localfs.CAS, replicas []string, log *zap.Logger) (storage.CAS, error) {
	if len(replicas) == 0 {
		return primary, nil
	}
	reps := []storage.Replica{{Name: primary.Root(), CAS: primary}}
	for _, dir := range replicas {
		r, err := localfs.New(dir)
		if err != nil {
			return nil, err
		}
		reps = append(reps, storage.Replica{Name: dir, CAS: r})
	}
	return storage.NewReplicated(log, reps...), nil
}

func (s *session) engine() *membership.Engine {
	return membership.NewEngine(s.env.Dual(), membership.Options{Logger: s.env.Log})
}

func initCommand(out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty ledger",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			if err := s.lockLedger(); err != nil {
				return err
			}
			defer s.unlock()
			l, err := s.store.Init()
			if err != nil {
				return cli.Fail(err)
			}
			fmt.Fprintf(out, "Ledger initialized at %s\n", s.dir)
			fmt.Fprintf(out, "  Hash:    %s\n", l.IntegrityHash())
			fmt.Fprintf(out, "  Members: 0\n")
			return nil
		},
	}
}

func addCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "add",
		Short: "Register a member from a signed registration request",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			path, _ := c.Flags().GetString(registrationFileKey)
			raw, err := os.ReadFile(path)
			if err != nil {
				return cli.Fail(err)
			}
			req, err := identity.ParseRegistrationRequest(raw)
			if err != nil {
				return cli.Fail(err)
			}
			voucherFlag, _ := c.Flags().GetString(voucherCIDsKey)
			vouchers := cli.SplitList(voucherFlag)
			genesis, _ := c.Flags().GetBool(genesisKey)

			var added *ledger.Entry
			var position int
			h, err := s.mutate(func(l *ledger.Ledger) error {
				var rerr error
				added, rerr = s.engine().Register(req, vouchers, genesis, l)
				position = l.Len()
				return rerr
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Member added to ledger\n")
			fmt.Fprintf(out, "  CID:    %s\n", added.CIDHash)
			fmt.Fprintf(out, "  Status: %s\n", added.Status)
			fmt.Fprintf(out, "  Phase:  %s\n", added.RegistrationPhase)
			fmt.Fprintf(out, "  Entry:  #%d\n", position)
			fmt.Fprintf(out, "  Ledger: %s\n", h)
			if added.Status == ledger.StatusProvisional {
				fmt.Fprintf(out, "  Provisional: awaiting vouching for activation\n")
			}
			if s.archive != nil {
				if canon, err := canonical.Transform(raw); err == nil {
					if id, err := s.archive.Put("registration", canon); err == nil {
						fmt.Fprintf(out, "  Archived: %s\n", id)
					} else {
						s.env.Log.Warn("registration not archived", zap.Error(err))
					}
				}
			}
			return nil
		},
	}
	c.Flags().String(registrationFileKey, "", "Signed registration request (JSON)")
	c.Flags().String(voucherCIDsKey, "", "Comma separated voucher cid hashes")
	c.Flags().Bool(genesisKey, false, "Genesis entry: the founder, admitted without vouchers into an empty ledger")
	_ = c.MarkFlagRequired(registrationFileKey)
	return c
}

func activateCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "activate",
		Short: "Activate a provisional member after vouching",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			prefix, _ := c.Flags().GetString(cidKey)
			voucherFlag, _ := c.Flags().GetString(voucherCIDsKey)
			vouchers := cli.SplitList(voucherFlag)

			var act membership.Activation
			h, err := s.mutate(func(l *ledger.Ledger) error {
				var aerr error
				act, aerr = s.engine().Activate(prefix, vouchers, l)
				return aerr
			})
			if err != nil {
				return err
			}
			if !act.Changed {
				fmt.Fprintf(out, "Member %s is already active\n", act.Entry.Short())
				return nil
			}
			fmt.Fprintf(out, "Member activated\n")
			fmt.Fprintf(out, "  CID:      %s\n", act.Entry.CIDHash)
			fmt.Fprintf(out, "  Vouchers: %d\n", len(act.Entry.Vouchers))
			fmt.Fprintf(out, "  Ledger:   %s\n", h)
			return nil
		},
	}
	c.Flags().String(cidKey, "", "cid hash or unique prefix")
	c.Flags().String(voucherCIDsKey, "", "Comma separated voucher cid hashes")
	_ = c.MarkFlagRequired(cidKey)
	_ = c.MarkFlagRequired(voucherCIDsKey)
	return c
}

func governanceCommand(out, errOut io.Writer, name, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			prefix, _ := c.Flags().GetString(cidKey)
			reason, _ := c.Flags().GetString(reasonKey)

			var changed *ledger.Entry
			h, err := s.mutate(func(l *ledger.Ledger) error {
				var terr error
				if name == "withdraw" {
					changed, terr = s.engine().Withdraw(prefix, reason, l)
				} else {
					changed, terr = s.engine().Deactivate(prefix, reason, l)
				}
				return terr
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Member %s is now %s\n", changed.Short(), changed.Status)
			fmt.Fprintf(out, "  Ledger: %s\n", h)
			return nil
		},
	}
	c.Flags().String(cidKey, "", "cid hash or unique prefix")
	c.Flags().String(reasonKey, "", "Reason recorded in last_governance_action")
	_ = c.MarkFlagRequired(cidKey)
	return c
}

func verifyCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "verify",
		Short: "Verify ledger integrity",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			mode := compliance.Permissive
			if strict, _ := c.Flags().GetBool(strictKey); strict {
				mode = compliance.Strict
			}
			l, err := s.load()
			if err != nil {
				return err
			}
			rep := s.store.Verify(l, mode)
			fmt.Fprintf(out, "Entries: %d\n", rep.Entries)
			fmt.Fprintf(out, "Hash:    %s\n", rep.LedgerHash)
			if rep.AnchorCID != "" {
				fmt.Fprintf(out, "Anchor:  %s\n", rep.AnchorCID)
			}
			for _, w := range rep.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			if !rep.OK() {
				for _, d := range rep.Discrepancies {
					fmt.Fprintf(out, "FAIL: %s\n", d)
				}
				return cli.Failf("ledger verification failed (%s): %d discrepancies", mode, len(rep.Discrepancies))
			}
			fmt.Fprintln(out, "Ledger integrity verified")
			return nil
		},
	}
	c.Flags().Bool(strictKey, false, "Treat warnings about mirrors, the hash file and the archive as failures")
	return c
}

func showCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "show",
		Short: "List members or show one entry",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			l, err := s.load()
			if err != nil {
				return err
			}
			if prefix, _ := c.Flags().GetString(cidKey); prefix != "" {
				e, err := l.Find(prefix)
				if err != nil {
					return cli.Fail(err)
				}
				b, err := canonical.Indent(e)
				if err != nil {
					return cli.Fail(err)
				}
				_, err = out.Write(b)
				return err
			}

			st := l.Stats()
			fmt.Fprintf(out, "Members: %d (active %d, provisional %d, inactive %d, withdrawn %d)\n",
				st.Total, st.Active, st.Provisional, st.Inactive, st.Withdrawn)
			fmt.Fprintf(out, "Phase:   %s\n", st.CurrentPhase)
			for _, e := range l.Summaries() {
				fmt.Fprintf(out, "  #%d %s...  %-11s %-8s registered %s  vouchers: %d\n",
					e.Position, e.CIDHash[:min(16, len(e.CIDHash))], e.Status, e.Phase, formatTime(e.Registered), e.Vouchers)
			}
			return nil
		},
	}
	c.Flags().String(cidKey, "", "Show the entry with this cid hash or unique prefix")
	return c
}

func statsCommand(out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate ledger statistics",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			l, err := s.load()
			if err != nil {
				return err
			}
			st := l.Stats()
			fmt.Fprintf(out, "Total entries:  %d\n", st.Total)
			fmt.Fprintf(out, "Active:         %d\n", st.Active)
			fmt.Fprintf(out, "Provisional:    %d\n", st.Provisional)
			fmt.Fprintf(out, "Inactive:       %d\n", st.Inactive)
			fmt.Fprintf(out, "Withdrawn:      %d\n", st.Withdrawn)
			fmt.Fprintf(out, "Current phase:  %s\n", st.CurrentPhase)
			if st.Total > 0 {
				fmt.Fprintf(out, "First entry:    %s\n", formatTime(st.FirstEntry))
				fmt.Fprintf(out, "Last entry:     %s\n", formatTime(st.LastEntry))
			}
			fmt.Fprintf(out, "Ledger hash:    %s\n", st.LedgerHash)
			fmt.Fprintf(out, "Anchor CID:     %s\n", st.AnchorCID)
			if len(st.Phases) > 0 {
				fmt.Fprintln(out, "Registration phases:")
				for _, p := range ledger.PhaseNames(st) {
					fmt.Fprintf(out, "  %-10s %d\n", p, st.Phases[p])
				}
			}
			return nil
		},
	}
}

func exportCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "export",
		Short: "Write the archived ledger snapshot and registrations to a bundle",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			if s.archive == nil {
				return cli.Fail(storage.ErrNoArchive)
			}
			l, err := s.load()
			if err != nil {
				return err
			}
			anchor, err := ledger.AnchorCID(l)
			if err != nil {
				return cli.Fail(err)
			}
			if !s.archive.Has(anchor) {
				return cli.Failf("ledger snapshot %s is not archived", anchor)
			}
			ids, err := s.primary.List()
			if err != nil {
				return cli.Fail(err)
			}

			path, _ := c.Flags().GetString(outputKey)
			var buf bytes.Buffer
			m, err := bundle.Write(&buf, s.archive.CAS(), anchor, ids)
			if err != nil {
				return cli.Fail(err)
			}
			if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return cli.Fail(err)
			}
			fmt.Fprintf(out, "Anchor:  %s\n", m.Anchor)
			fmt.Fprintf(out, "Objects: %d\n", len(m.Objects))
			fmt.Fprintf(out, "Wrote %s\n", path)
			return nil
		},
	}
	c.Flags().String(outputKey, "", "Bundle file to write")
	_ = c.MarkFlagRequired(outputKey)
	return c
}

func importCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "import",
		Short: "Load a bundle into the archive and compare its anchor with the ledger",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := open(c, out, errOut)
			if err != nil {
				return err
			}
			if s.archive == nil {
				return cli.Fail(storage.ErrNoArchive)
			}
			path, _ := c.Flags().GetString(inputKey)
			f, err := os.Open(path)
			if err != nil {
				return cli.Fail(err)
			}
			defer f.Close()
			m, err := bundle.Read(f, s.archive.CAS())
			if err != nil {
				return cli.Fail(err)
			}
			fmt.Fprintf(out, "Imported %d objects, anchor %s\n", len(m.Objects), m.Anchor)

			if !s.store.Exists() {
				return nil
			}
			l, err := s.load()
			if err != nil {
				return err
			}
			anchor, err := ledger.AnchorCID(l)
			if err != nil {
				return cli.Fail(err)
			}
			if anchor.String() != m.Anchor {
				return cli.Failf("bundle anchor %s does not match ledger anchor %s", m.Anchor, anchor)
			}
			fmt.Fprintln(out, "Bundle anchor matches the ledger")
			return nil
		},
	}
	c.Flags().String(inputKey, "", "Bundle file to read")
	_ = c.MarkFlagRequired(inputKey)
	return c
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}
