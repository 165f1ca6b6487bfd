package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type loadFlags struct {
	BaseURL     string
	Total       int
	Concurrency int
	Account     int64
	Amount      string
	Timeout     time.Duration
}

// depositRequest 與 /utpcDepositMoney 的請求格式相同
type depositRequest struct {
	AccountID int64           `json:"idTarjetNumber"`
	Kind      string          `json:"tipoDesposito"`
	Amount    decimal.Decimal `json:"monto"`
}

func main() {
	if err := newLoadCmd().Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func newLoadCmd() *cobra.Command {
	flags := &loadFlags{}

	cmd := &cobra.Command{
		Use:           "loadclient",
		Short:         "Send concurrent deposits to a running bankd",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := decimal.NewFromString(flags.Amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.Timeout)
			defer cancel()

			s := run(ctx, http.DefaultClient, flags, amount)
			return s.render(amount)
		},
	}

	cmd.Flags().StringVar(&flags.BaseURL, "url", "http://localhost:8080", "bankd base url")
	cmd.Flags().IntVarP(&flags.Total, "total", "n", 1000, "number of deposits")
	cmd.Flags().IntVarP(&flags.Concurrency, "concurrency", "c", 50, "requests in flight")
	cmd.Flags().Int64Var(&flags.Account, "account", 1, "target account id")
	cmd.Flags().StringVar(&flags.Amount, "amount", "1.00", "amount per deposit")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 120*time.Second, "overall timeout")
	return cmd
}

type summary struct {
	total   int
	ok      int64
	failed  int64
	elapsed time.Duration
}

// run 以 semaphore 控制同時送出的請求數
func run(ctx context.Context, client *http.Client, flags *loadFlags, amount decimal.Decimal) summary {
	body, _ := json.Marshal(depositRequest{AccountID: flags.Account, Kind: "Deposito", Amount: amount})
	url := strings.TrimRight(flags.BaseURL, "/") + "/utpcDepositMoney"

	var ok, failed atomic.Int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, max(flags.Concurrency, 1))

	start := time.Now()
	for i := 0; i < flags.Total; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := post(ctx, client, url, body); err != nil {
				failed.Add(1)
				if idx%1000 == 0 {
					pterm.Warning.Printf("deposit %d failed: %v\n", idx, err)
				}
				return
			}
			ok.Add(1)
		}(i)
	}
	wg.Wait()

	return summary{total: flags.Total, ok: ok.Load(), failed: failed.Load(), elapsed: time.Since(start)}
}

func post(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var msg struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&msg)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg.Message)
	}
	return nil
}

func (s summary) render(amount decimal.Decimal) error {
	tps := float64(s.total) / s.elapsed.Seconds()
	data := pterm.TableData{
		{"Requests", "Succeeded", "Failed", "Elapsed", "TPS", "Expected balance delta"},
		{
			fmt.Sprint(s.total),
			fmt.Sprint(s.ok),
			fmt.Sprint(s.failed),
			s.elapsed.Round(time.Millisecond).String(),
			fmt.Sprintf("%.2f", tps),
			amount.Mul(decimal.NewFromInt(s.ok)).StringFixed(2),
		},
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
