package commands

import (
	"crypto/ecdsa"
	"fmt"
	"io/ioutil"
	"os"
	"path"

	"github.com/spf13/cobra"
	"github.com/zacharyzhang1208/COMP5567-Project/src/config"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
)

var (
	privKeyFile           string
	pubKeyFile            string
	keyID                 string
	keySecret             string
	defaultPrivateKeyFile = fmt.Sprintf("%s/%s", _config.Ledgerd.DataDir, config.DefaultKeyfile)
	defaultPublicKeyFile  = fmt.Sprintf("%s/key.pub", _config.Ledgerd.DataDir)
)

// NewKeygenCmd produces a KeygenCmd which create a key pair
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new key pair",
		Long: `Create a new key pair and write it to the data directory.

With --id and --secret, the key is derived from the credentials: the same
pair always gives the same key. Derived keys are only as strong as the
secret.

A key written to the data directory is used by every node of that directory
that has no key of its own under node-<port>.`,
		RunE: keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&privKeyFile, "priv", defaultPrivateKeyFile, "File where the private key will be written")
	cmd.Flags().StringVar(&pubKeyFile, "pub", defaultPublicKeyFile, "File where the public key will be written")
	cmd.Flags().StringVar(&keyID, "id", "", "User ID to derive the key from")
	cmd.Flags().StringVar(&keySecret, "secret", "", "Secret to derive the key from")
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(privKeyFile); err == nil {
		return fmt.Errorf("A key already lives under: %s", path.Dir(privKeyFile))
	}

	var (
		key *ecdsa.PrivateKey
		err error
	)

	switch {
	case keyID != "" && keySecret != "":
		key, err = keys.GenerateKeyPair(keyID, keySecret)
	case keyID != "" || keySecret != "":
		return fmt.Errorf("--id and --secret must be used together")
	default:
		key, err = keys.GenerateECDSAKey()
	}
	if err != nil {
		return fmt.Errorf("Error generating ECDSA key: %s", err)
	}

	if err := os.MkdirAll(path.Dir(privKeyFile), 0700); err != nil {
		return fmt.Errorf("Writing private key: %s", err)
	}

	jsonKey := keys.NewSimpleKeyfile(privKeyFile)

	if err := jsonKey.WriteKey(key); err != nil {
		return fmt.Errorf("Writing private key: %s", err)
	}

	fmt.Printf("Your private key has been saved to: %s\n", privKeyFile)

	if err := os.MkdirAll(path.Dir(pubKeyFile), 0700); err != nil {
		return fmt.Errorf("Writing public key: %s", err)
	}

	pub := keys.PublicKeyHex(&key.PublicKey)

	if err := ioutil.WriteFile(pubKeyFile, []byte(pub), 0600); err != nil {
		return fmt.Errorf("Writing public key: %s", err)
	}

	fmt.Printf("Your public key has been saved to: %s\n", pubKeyFile)

	return nil
}
