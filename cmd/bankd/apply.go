package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
)

type applyFlags struct {
	Account int64
	Kind    string
	Amount  string
	NewKey  string
}

func newApplyCmd(st *state) *cobra.Command {
	flags := &applyFlags{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply one operation to an account",
		Long: `Apply a deposit, withdrawal or card key change through the ledger.

	Examples:
	bankd apply --account 1 --kind deposit --amount 150.50
	bankd apply --account 1 --kind withdrawal --amount 20
	bankd apply --account 2 --kind pin --new-key 654321`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			op, err := flags.operation()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := newApplication(ctx, st.cfg, st.log)
			if err != nil {
				return err
			}
			defer app.shutdown(st.cfg.Server.ShutdownTimeout)

			result, err := app.core.ApplyOperation(ctx, op)
			if err != nil {
				return err
			}
			return renderResult(result)
		},
	}

	cmd.Flags().Int64VarP(&flags.Account, "account", "a", 0, "account id (idTarjetNumber)")
	cmd.Flags().StringVarP(&flags.Kind, "kind", "k", "", "deposit | withdrawal | pin (or Deposito | Retiro | Cambio de Clave)")
	cmd.Flags().StringVar(&flags.Amount, "amount", "", "amount for deposit/withdrawal, e.g. 150.50")
	cmd.Flags().StringVar(&flags.NewKey, "new-key", "", "new card key for pin")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

// parseKind 接受英文別名或資料庫的操作名稱
func parseKind(s string) (domain.OperationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deposit":
		return domain.OperationDeposit, nil
	case "withdrawal", "withdraw":
		return domain.OperationWithdrawal, nil
	case "pin", "pin-change", "key":
		return domain.OperationPinChange, nil
	}
	return domain.ParseOperationKind(s)
}

func (f *applyFlags) operation() (domain.Operation, error) {
	kind, err := parseKind(f.Kind)
	if err != nil {
		return domain.Operation{}, err
	}

	op := domain.Operation{AccountID: f.Account, Kind: kind, NewKey: f.NewKey}
	if kind.AffectsBalance() {
		if f.Amount == "" {
			return domain.Operation{}, fmt.Errorf("--amount is required for %s", kind)
		}
		if op.Amount, err = decimal.NewFromString(f.Amount); err != nil {
			return domain.Operation{}, fmt.Errorf("invalid --amount %q: %w", f.Amount, err)
		}
	}
	return op, nil
}

func renderResult(result *domain.Result) error {
	data := pterm.TableData{
		{"Field", "Value"},
		{"Transaction", strconv.FormatInt(result.Transaction.ID, 10)},
		{"Account", strconv.FormatInt(result.Account.ID, 10)},
		{"Kind", string(result.Transaction.Kind)},
		{"Amount", result.Transaction.Amount.StringFixed(2)},
		{"Balance", fmt.Sprintf("%s -> %s", result.PreviousBalance.StringFixed(2), result.Account.Balance.StringFixed(2))},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Success.Println("Operation committed")
	return nil
}
