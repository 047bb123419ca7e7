package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/docsafe/docsafe/blobstore"
	"github.com/docsafe/docsafe/client"
	"github.com/docsafe/docsafe/cmd/flags"
	"github.com/docsafe/docsafe/common"
	"github.com/docsafe/docsafe/escrow"
	"github.com/docsafe/docsafe/interfaces"
	"github.com/docsafe/docsafe/share"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

var passwordFlag = &cli.StringFlag{
	Name:    "password",
	Usage:   "account password",
	EnvVars: []string{"DOCSAFE_PASSWORD"},
}

var storeFlags = []cli.Flag{
	flags.AccountFlag,
	flags.EscrowURIFlag,
	flags.BlobURIFlag,
	passwordFlag,
}

func main() {
	app := &cli.App{
		Name:    "docsafe",
		Usage:   "encrypt, share and rotate document keys",
		Version: common.Version,
		Flags:   flags.LoggingFlags,
		Commands: []*cli.Command{
			{
				Name:   "create-account",
				Usage:  "provision a new account record",
				Flags:  storeFlags,
				Action: runCreateAccount,
			},
			{
				Name:      "encrypt",
				Usage:     "encrypt a file into a container",
				ArgsUsage: "<file>",
				Flags: append([]cli.Flag{
					flags.AlgorithmFlag,
					flags.EscrowPubKeyFileFlag,
				}, storeFlags...),
				Action: runEncrypt,
			},
			{
				Name:      "decrypt",
				Usage:     "decrypt a container back to a file",
				ArgsUsage: "<document-id> <container-id> <output-file>",
				Flags:     storeFlags,
				Action:    runDecrypt,
			},
			{
				Name:      "share",
				Usage:     "create a password-protected share for a document",
				ArgsUsage: "<document-id>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "share-password",
						Usage:   "password protecting the share",
						EnvVars: []string{"DOCSAFE_SHARE_PASSWORD"},
					},
					&cli.DurationFlag{
						Name:  "expires-in",
						Usage: "share lifetime, e.g. 72h (0 = no expiry)",
					},
					&cli.IntFlag{
						Name:  "max-access",
						Usage: "maximum validation attempts (0 = unlimited)",
					},
				}, storeFlags...),
				Action: runShare,
			},
			{
				Name:      "revoke-share",
				Usage:     "revoke a share grant and its envelope",
				ArgsUsage: "<share-id>",
				Flags:     storeFlags,
				Action:    runRevokeShare,
			},
			{
				Name:  "rotate",
				Usage: "rotate the master key to a new password",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "new-password",
						Usage:   "new account password",
						EnvVars: []string{"DOCSAFE_NEW_PASSWORD"},
					},
				}, storeFlags...),
				Action: runRotate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*client.Client, error) {
	logger := flags.SetupLogger(cCtx)

	store, err := escrow.StoreFromURI(cCtx.String(flags.EscrowURIFlag.Name), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create escrow store: %w", err)
	}
	blobs, err := blobstore.BackendFor(cCtx.String(flags.BlobURIFlag.Name), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	cfg := client.Config{
		AccountID:  cCtx.String(flags.AccountFlag.Name),
		Store:      store,
		Blobs:      blobs,
		SessionTTL: 15 * time.Minute,
		Log:        logger,
	}

	if algName := cCtx.String(flags.AlgorithmFlag.Name); algName != "" {
		alg, err := interfaces.ParseAlgorithm(algName)
		if err != nil {
			return nil, err
		}
		cfg.Algorithm = alg
	}

	if keyFile := cCtx.String(flags.EscrowPubKeyFileFlag.Name); keyFile != "" {
		pubKey, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read escrow public key: %w", err)
		}
		cfg.EscrowPublicKey = pubKey
		cfg.EscrowKeyID = filepath.Base(keyFile)
	}

	return client.New(cfg)
}

func password(cCtx *cli.Context) ([]byte, error) {
	pw := cCtx.String(passwordFlag.Name)
	if pw == "" {
		return nil, fmt.Errorf("password required (flag --password or DOCSAFE_PASSWORD)")
	}
	return []byte(pw), nil
}

func unlockedClient(cCtx *cli.Context) (*client.Client, error) {
	c, err := newClient(cCtx)
	if err != nil {
		return nil, err
	}
	pw, err := password(cCtx)
	if err != nil {
		return nil, err
	}
	if err := c.Unlock(cCtx.Context, pw); err != nil {
		return nil, err
	}
	return c, nil
}

func runCreateAccount(cCtx *cli.Context) error {
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	pw, err := password(cCtx)
	if err != nil {
		return err
	}
	if err := c.CreateAccount(cCtx.Context, pw); err != nil {
		return err
	}
	fmt.Printf("account %s created\n", cCtx.String(flags.AccountFlag.Name))
	return nil
}

func runEncrypt(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return fmt.Errorf("usage: encrypt <file>")
	}
	path := cCtx.Args().First()

	plaintext, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c, err := unlockedClient(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.EncryptDocument(cCtx.Context, plaintext, interfaces.DocumentMetadata{
		Filename: filepath.Base(path),
		MimeType: "application/octet-stream",
		Size:     int64(len(plaintext)),
	})
	if err != nil {
		return err
	}

	fmt.Printf("document_id: %s\ncontainer_id: %s\nkey_id: %s\n",
		result.DocumentID, result.ContainerID, result.KeyID)
	if result.EscrowKeyID != uuid.Nil {
		fmt.Printf("escrow_key_id: %s\n", result.EscrowKeyID)
	}
	return nil
}

func runDecrypt(cCtx *cli.Context) error {
	if cCtx.NArg() != 3 {
		return fmt.Errorf("usage: decrypt <document-id> <container-id> <output-file>")
	}
	documentID, err := uuid.Parse(cCtx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}
	containerID, err := interfaces.NewContainerIDFromHex(cCtx.Args().Get(1))
	if err != nil {
		return err
	}

	c, err := unlockedClient(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	doc, err := c.DecryptContainer(cCtx.Context, documentID, containerID)
	if err != nil {
		return err
	}

	if err := os.WriteFile(cCtx.Args().Get(2), doc.Plaintext, 0600); err != nil {
		return err
	}
	fmt.Printf("decrypted %s (%d bytes) to %s\n",
		doc.Metadata.Filename, len(doc.Plaintext), cCtx.Args().Get(2))
	return nil
}

func runShare(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return fmt.Errorf("usage: share <document-id>")
	}
	documentID, err := uuid.Parse(cCtx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}
	sharePw := cCtx.String("share-password")
	if sharePw == "" {
		return fmt.Errorf("share password required")
	}

	c, err := unlockedClient(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	opts := share.Options{MaxAccessCount: cCtx.Int("max-access")}
	if d := cCtx.Duration("expires-in"); d > 0 {
		opts.ExpiresAt = time.Now().Add(d)
	}

	grant, err := c.CreateShare(cCtx.Context, documentID, []byte(sharePw), opts)
	if err != nil {
		return err
	}
	fmt.Printf("share_id: %s\n", grant.ShareID)
	return nil
}

func runRevokeShare(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return fmt.Errorf("usage: revoke-share <share-id>")
	}
	shareID, err := uuid.Parse(cCtx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid share id: %w", err)
	}

	c, err := unlockedClient(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.RevokeShare(cCtx.Context, shareID); err != nil {
		return err
	}
	fmt.Printf("share %s revoked\n", shareID)
	return nil
}

func runRotate(cCtx *cli.Context) error {
	newPw := cCtx.String("new-password")
	if newPw == "" {
		return fmt.Errorf("new password required (flag --new-password or DOCSAFE_NEW_PASSWORD)")
	}

	c, err := unlockedClient(cCtx)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.RotateKeys(cCtx.Context, []byte(newPw))
	if err != nil {
		return err
	}

	fmt.Printf("rotated: %d succeeded, %d failed, %d skipped in %s\n",
		len(result.Succeeded), len(result.Failed), len(result.Skipped), result.Duration)
	for _, failure := range result.Failed {
		fmt.Printf("  failed %s: %s\n", failure.KeyID, failure.Reason)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d envelopes still under the old key", len(result.Failed))
	}
	return nil
}
