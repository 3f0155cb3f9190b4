package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var hashpwCost int

var hashpwCmd = &cobra.Command{
	Use:   "hashpw",
	Short: "Hash a password for use as auth.password_hash",
	Long: `Read a password from standard input and print its bcrypt hash.

The hash goes into the auth.password_hash config key, replacing the plain
auth.password.

Example:
  echo -n 'secret' | mediaftpd hashpw`,
	RunE: runHashpw,
}

func init() {
	hashpwCmd.Flags().IntVar(&hashpwCost, "cost", bcrypt.DefaultCost, "bcrypt cost factor")
}

func runHashpw(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil && password == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashpwCost)
	if err != nil {
		return err
	}

	cmd.Println(string(hash))
	return nil
}
