package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"emergentminds.org/covenant/canonical"
	"emergentminds.org/covenant/identity"
	"emergentminds.org/covenant/internal/cli"
	"emergentminds.org/covenant/keys"
)

const (
	outputDirKey     = "output-dir"
	identityDirKey   = "identity-dir"
	passphraseEnvKey = "passphrase-env"
	messageKey       = "message"
	outputKey        = "output"
	publicKeyFileKey = "public-key-file"
	signatureFileKey = "signature-file"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	return cli.Execute(rootCommand(out, errOut), args, out, errOut)
}

func rootCommand(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "covenant-id",
		Short: "Covenant identity tool: dual ML-DSA-65 + Ed25519 keys",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			_ = c.Usage()
			return cli.Usagef("a command is required")
		},
	}
	cli.AddGlobalFlags(root.PersistentFlags())
	root.AddCommand(
		generateCommand(out, errOut),
		showCommand(out, errOut),
		signCommand(out, errOut),
		verifyCommand(out, errOut),
		registerCommand(out, errOut),
	)
	return root
}

func identityDir(c *cobra.Command, env *cli.Env, key string) string {
	if dir, _ := c.Flags().GetString(key); dir != "" {
		return dir
	}
	if env.Config.Identity.Dir != "" {
		return env.Config.Identity.Dir
	}
	dir, err := keys.DefaultIdentityDirectory()
	if err != nil {
		return "identity"
	}
	return dir
}

func passphrase(c *cobra.Command, env *cli.Env) string {
	if name, _ := c.Flags().GetString(passphraseEnvKey); name != "" {
		return os.Getenv(name)
	}
	return env.Config.Identity.Passphrase()
}

func generateCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new identity",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			env, err := cli.Load(c.Flags(), out, errOut)
			if err != nil {
				return err
			}
			dir := identity.NewDir(identityDir(c, env, outputDirKey), env.Log)
			kp, err := identity.Generate(env.Dual(), rand.Reader)
			if err != nil {
				return cli.Fail(err)
			}
			pass := passphrase(c, env)
			if err := dir.Save(kp, pass); err != nil {
				return cli.Fail(err)
			}
			fmt.Fprintf(out, "Identity generated\n")
			fmt.Fprintf(out, "  CID:     %s\n", kp.CIDHash())
			fmt.Fprintf(out, "  Public:  %s\n", filepath.Join(dir.Path, identity.PublicFile))
			fmt.Fprintf(out, "  Secret:  %s (sealed: %t)\n", filepath.Join(dir.Path, identity.SecretFile), pass != "")
			return nil
		},
	}
	c.Flags().String(outputDirKey, "", "Identity directory (default ~/.covenant/identity)")
	c.Flags().String(passphraseEnvKey, "", "Environment variable holding a passphrase to seal the secret keys")
	return c
}

func showCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "show",
		Short: "Print the public identity",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			env, err := cli.Load(c.Flags(), out, errOut)
			if err != nil {
				return err
			}
			pub, err := identity.NewDir(identityDir(c, env, identityDirKey), env.Log).LoadPublic()
			if err != nil {
				return cli.Fail(err)
			}
			fmt.Fprintf(out, "CID:        %s\n", pub.CIDHash)
			fmt.Fprintf(out, "Version:    %d\n", pub.CIDVersion)
			fmt.Fprintf(out, "Generated:  %d\n", pub.GeneratedAt)
			fmt.Fprintf(out, "Algorithms: %s + %s\n", pub.Algorithms.PostQuantum, pub.Algorithms.Classical)
			fmt.Fprintf(out, "Key sizes:  %s %d/%d bytes, %s %d/%d bytes\n",
				keys.AlgMLDSA65, pub.KeySizes.MLDSA65Public, pub.KeySizes.MLDSA65Secret,
				keys.AlgEd25519, pub.KeySizes.Ed25519Public, pub.KeySizes.Ed25519Secret)
			return nil
		},
	}
	c.Flags().String(identityDirKey, "", "Identity directory (default ~/.covenant/identity)")
	return c
}

func signCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "sign",
		Short: "Dual-sign a message",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			env, err := cli.Load(c.Flags(), out, errOut)
			if err != nil {
				return err
			}
			msg, _ := c.Flags().GetString(messageKey)
			dir := identity.NewDir(identityDir(c, env, identityDirKey), env.Log)
			sk, cid, err := dir.LoadSecret(passphrase(c, env))
			if err != nil {
				return cli.Fail(err)
			}
			signed, err := identity.SignMessage(env.Dual(), cid, sk, msg)
			if err != nil {
				return cli.Fail(err)
			}
			return writeJSON(c, out, signed)
		},
	}
	c.Flags().String(identityDirKey, "", "Identity directory (default ~/.covenant/identity)")
	c.Flags().String(passphraseEnvKey, "", "Environment variable holding the sealing passphrase")
	c.Flags().String(messageKey, "", "Message to sign")
	c.Flags().String(outputKey, "", "Write the signed message here instead of stdout")
	_ = c.MarkFlagRequired(messageKey)
	return c
}

func verifyCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed message against a public identity",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			env, err := cli.Load(c.Flags(), out, errOut)
			if err != nil {
				return err
			}
			pubPath, _ := c.Flags().GetString(publicKeyFileKey)
			sigPath, _ := c.Flags().GetString(signatureFileKey)
			pub, err := identity.ReadPublic(pubPath)
			if err != nil {
				return cli.Fail(err)
			}
			raw, err := os.ReadFile(sigPath)
			if err != nil {
				return cli.Fail(err)
			}
			var signed identity.SignedMessage
			if err := json.Unmarshal(raw, &signed); err != nil {
				return cli.Failf("parse %s: %v", filepath.Base(sigPath), err)
			}
			var override *string
			if c.Flags().Changed(messageKey) {
				m, _ := c.Flags().GetString(messageKey)
				override = &m
			}

			v := signed.Verify(env.Dual(), *pub, override)
			fmt.Fprintf(out, "%s: %s\n", keys.AlgMLDSA65, verdict(v.PostQuantum))
			fmt.Fprintf(out, "%s: %s\n", keys.AlgEd25519, verdict(v.Classical))
			if signed.SignerCID != "" && signed.SignerCID != pub.CIDHash {
				return cli.Failf("signer_cid %s does not match public identity %s", signed.SignerCID, pub.CIDHash)
			}
			if !v.BothValid {
				return cli.Fail(v.Err())
			}
			fmt.Fprintln(out, "Both signatures valid")
			return nil
		},
	}
	c.Flags().String(publicKeyFileKey, "", "public_keys.json of the signer")
	c.Flags().String(signatureFileKey, "", "Signed message file")
	c.Flags().String(messageKey, "", "Verify this text instead of the embedded message")
	_ = c.MarkFlagRequired(publicKeyFileKey)
	_ = c.MarkFlagRequired(signatureFileKey)
	return c
}

func registerCommand(out, errOut io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "register",
		Short: "Create a signed registration request",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			env, err := cli.Load(c.Flags(), out, errOut)
			if err != nil {
				return err
			}
			dir := identity.NewDir(identityDir(c, env, identityDirKey), env.Log)
			pub, err := dir.LoadPublic()
			if err != nil {
				return cli.Fail(err)
			}
			sk, cid, err := dir.LoadSecret(passphrase(c, env))
			if err != nil {
				return cli.Fail(err)
			}
			if cid != pub.CIDHash {
				return cli.Failf("secret keys belong to %s, public identity is %s", cid, pub.CIDHash)
			}
			req, err := identity.NewRegistrationRequest(*pub, sk, env.Dual())
			if err != nil {
				return cli.Fail(err)
			}

			path, _ := c.Flags().GetString(outputKey)
			if path == "" {
				if path, err = dir.WriteArtifact(identity.RegistrationFile, req); err != nil {
					return cli.Fail(err)
				}
			} else if err := writeFile(path, req); err != nil {
				return cli.Fail(err)
			}
			fmt.Fprintf(out, "Registration request written to %s\n", path)
			fmt.Fprintf(out, "  CID:          %s\n", pub.CIDHash)
			fmt.Fprintf(out, "  Message hash: %s\n", req.Signatures.MessageHash)
			return nil
		},
	}
	c.Flags().String(identityDirKey, "", "Identity directory (default ~/.covenant/identity)")
	c.Flags().String(passphraseEnvKey, "", "Environment variable holding the sealing passphrase")
	c.Flags().String(outputKey, "", "Output file (default <identity-dir>/registration_request.json)")
	return c
}

func verdict(ok bool) string {
	if ok {
		return "valid"
	}
	return "INVALID"
}

func writeJSON(c *cobra.Command, out io.Writer, v any) error {
	path, _ := c.Flags().GetString(outputKey)
	if path != "" {
		if err := writeFile(path, v); err != nil {
			return cli.Fail(err)
		}
		fmt.Fprintf(out, "Written to %s\n", path)
		return nil
	}
	b, err := canonical.Indent(v)
	if err != nil {
		return cli.Fail(err)
	}
	_, err = out.Write(b)
	return err
}

func writeFile(path string, v any) error {
	b, err := canonical.Indent(v)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, b, 0o644)
}
