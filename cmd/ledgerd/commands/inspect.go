package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zacharyzhang1208/COMP5567-Project/src/config"
	"github.com/zacharyzhang1208/COMP5567-Project/src/ledger"
)

var (
	inspectDB   string
	inspectPort int
)

// NewInspectCmd produces the command that prints the chain and the pending
// pool stored in a badger database. The database is opened read-only.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the chain and pending pool of a database",
		RunE:  inspect,
	}

	cmd.Flags().StringVar(&inspectDB, "db", "", "Database directory (default: the database of the node listening on --port)")
	cmd.Flags().IntVar(&inspectPort, "port", config.DefaultPortRangeStart, "Port of the node whose database is inspected")

	return cmd
}

func inspect(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.Level = logrus.WarnLevel
	entry := logrus.NewEntry(logger)

	db := inspectDB
	if db == "" {
		db = config.DatabaseDirForPort(_config.Ledgerd.DataDir, inspectPort)
	}

	store, err := ledger.LoadBadgerStore(db, entry)
	if err != nil {
		return err
	}
	defer store.Close()

	l, err := ledger.NewLedger(store, ledger.DefaultGenesisConfig(), entry)
	if err != nil {
		return err
	}
	if err := l.LoadReadOnly(); err != nil {
		return err
	}

	pterm.DefaultSection.Println(fmt.Sprintf("Chain (%d blocks)", l.Len()))

	blocks := pterm.TableData{{"#", "Hash", "Time", "Txs", "Validator", "Signed"}}
	for i, b := range l.Chain() {
		blocks = append(blocks, []string{
			strconv.Itoa(i),
			short(b.Hash),
			formatMillis(b.Timestamp),
			strconv.Itoa(len(b.Transactions)),
			b.ValidatorID,
			strconv.FormatBool(b.Signature != ""),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(blocks).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.Println(fmt.Sprintf("Pending (%d transactions)", l.PendingLen()))

	txs := pterm.TableData{{"Hash", "Type", "Time", "Signed"}}
	for _, tx := range l.Pending() {
		txs = append(txs, []string{
			short(tx.Hash),
			string(tx.Type),
			formatMillis(tx.Timestamp),
			strconv.FormatBool(tx.Signature != ""),
		})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(txs).Render()
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}

func formatMillis(ms int64) string {
	return time.Unix(0, ms*int64(time.Millisecond)).UTC().Format(time.RFC3339)
}
