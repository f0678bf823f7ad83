package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/fan-chao-sys/solidity-base-nft/deployment"
	"github.com/fan-chao-sys/solidity-base-nft/deployment/auction"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func liveness(probes map[string]deployment.Liveness, field string) string {
	if probes == nil {
		return faint("unknown")
	}
	p, ok := probes[field]
	if !ok {
		return ""
	}
	if p.HasCode {
		return green("code")
	}
	return red("no code")
}

// renderRecord prints the ledger with one row per field. probes may be nil when the
// network could not be reached.
func renderRecord(w io.Writer, path string, rec auction.DeploymentRecord, probes []deployment.Liveness) {
	var byField map[string]deployment.Liveness
	if probes != nil {
		byField = make(map[string]deployment.Liveness, len(probes))
		for _, p := range probes {
			byField[p.Name] = p
		}
	}

	fmt.Fprintf(w, "%s %s\n", faint("ledger"), path)
	table := newTable(w, "Field", "Value", "Chain")
	upgraded := yellow("false")
	if rec.Auction.Upgraded {
		upgraded = green("true")
	}
	table.AppendBulk([][]string{
		{"network", rec.Network, ""},
		{"chainId", strconv.FormatUint(rec.ChainID, 10), deployment.ChainName(rec.ChainID)},
		{"deployedAt", formatTime(&rec.DeployedAt), ""},
		{"lastRunId", rec.LastRunID, ""},
	})

	names := make([]string, 0, len(rec.BaseContracts))
	for name := range rec.BaseContracts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := rec.BaseContracts[name]
		field := "baseContracts." + name
		table.Append([]string{field, fmt.Sprintf("%s (%s)", c.Address, c.TypeAndVersion), liveness(byField, field)})
	}
	symbols := make([]string, 0, len(rec.PriceFeeds))
	for sym := range rec.PriceFeeds {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		field := "priceFeeds." + sym
		table.Append([]string{field, rec.PriceFeeds[sym].Hex(), liveness(byField, field)})
	}

	table.AppendBulk([][]string{
		{"factory.address", rec.Factory.Address.Hex(), liveness(byField, "factory.address")},
		{"factory.proxyImplementationAddress", rec.Factory.ProxyImplementationAddress.Hex(), ""},
		{"auction.proxyAddress", rec.Auction.ProxyAddress.Hex(), liveness(byField, "auction.proxyAddress")},
		{"auction.proxyImplementationAddress", rec.Auction.ProxyImplementationAddress.Hex(), ""},
		{"auction.implementationAddress", rec.Auction.ImplementationAddress.Hex(), liveness(byField, "auction.implementationAddress")},
		{"auction.logic", rec.Auction.Logic.String(), ""},
		{"auction.upgraded", upgraded, ""},
		{"auction.upgradeTime", formatTime(rec.Auction.UpgradeTime), ""},
		{"auction.strategy", rec.Auction.Strategy, ""},
	})
	for _, role := range rec.Roles() {
		table.Append([]string{"accounts." + role, rec.Accounts[role].Hex(), ""})
	}
	if b := rec.LastBatch; b != nil {
		state := green("complete")
		if !b.Complete() {
			state = yellow(fmt.Sprintf("stopped at %s", b.FailedAt))
		}
		table.Append([]string{"lastBatch", fmt.Sprintf("%d/%d upgraded, %d skipped, %s", len(b.Upgraded), len(b.Instances), len(b.Skipped), state), ""})
	}
	table.Render()
}

func renderPrices(w io.Writer, prices map[string]decimal.Decimal) {
	if len(prices) == 0 {
		return
	}
	symbols := make([]string, 0, len(prices))
	for sym := range prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	table := newTable(w, "Feed", "USD")
	for _, sym := range symbols {
		table.Append([]string{sym, prices[sym].StringFixed(2)})
	}
	table.Render()
}

func renderDiscrepancies(w io.Writer, ds []auction.Discrepancy) {
	table := newTable(w, "Field", "Expected", "Actual")
	for _, d := range ds {
		actual := d.Actual
		if d.Reason != "" {
			actual = d.Reason
		}
		table.Append([]string{d.Field, d.Expected, red(actual)})
	}
	table.Render()
}

func renderBatch(w io.Writer, e *auction.PartialBatchError) {
	table := newTable(w, "Instance", "Result")
	for _, a := range e.Upgraded {
		table.Append([]string{a.Hex(), green("upgraded")})
	}
	table.Append([]string{e.FailedAt.Hex(), red("failed")})
	for _, a := range e.NotAttempted {
		table.Append([]string{a.Hex(), faint("not attempted")})
	}
	table.Render()
}

func renderDead(w io.Writer, dead []deployment.Liveness) {
	table := newTable(w, "Field", "Address", "Chain")
	for _, d := range dead {
		table.Append([]string{d.Name, d.Address.Hex(), red("no code")})
	}
	table.Render()
}

// renderError prints the details carried by typed run errors. The message itself is
// printed by main.
func (s *Shell) renderError(err error) {
	var (
		verification *auction.VerificationFailedError
		stale        *auction.StaleLedgerError
		partial      *auction.PartialBatchError
		postUpgrade  *auction.PostUpgradeVerificationError
	)
	switch {
	case errors.As(err, &verification):
		renderDiscrepancies(s.Out, verification.Discrepancies)
	case errors.As(err, &stale):
		if len(stale.Dead) > 0 {
			renderDead(s.Out, stale.Dead)
		}
		fmt.Fprintf(s.Out, "%s run `auctionctl --network %s reset --yes`, then deploy again\n", yellow("hint:"), stale.Network)
	case errors.As(err, &partial):
		renderBatch(s.Out, partial)
		fmt.Fprintf(s.Out, "%s run the batch upgrade again to resume after %s\n", yellow("hint:"), partial.FailedAt)
	case errors.As(err, &postUpgrade):
		if postUpgrade.Actual != (common.Address{}) {
			renderDiscrepancies(s.Out, []auction.Discrepancy{{Field: postUpgrade.Target, Expected: postUpgrade.Expected.Hex(), Actual: postUpgrade.Actual.Hex()}})
		}
	}
}
