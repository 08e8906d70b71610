package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/resolve-hq/enrichment-engine/internal/db"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// seed-catalog loads a curated subscription price list from a spreadsheet into
// the subscription_catalog table. Seeded rows are marked verified so runtime
// matching trusts them over learned entries.
//
// Usage: seed-catalog -file catalog.xlsx [-sheet Sheet1]

// headerAliases maps each catalog column to the spellings seen in curated
// spreadsheets.
var headerAliases = map[string][]string{
	"merchant":   {"merchant", "merchant_name", "merchant name", "company", "provider", "service"},
	"product":    {"product", "product_name", "product name", "plan", "tier", "package"},
	"amount":     {"amount", "price", "monthly_price", "monthly price", "cost", "amount_minor"},
	"currency":   {"currency", "ccy", "iso currency"},
	"recurrence": {"recurrence", "recurrence_period", "billing period", "frequency", "billing_cycle"},
	"category":   {"category", "type", "spending category"},
}

func main() {
	file := flag.String("file", "", "path to the catalog spreadsheet (.xlsx)")
	sheet := flag.String("sheet", "", "sheet name (default: first sheet)")
	flag.Parse()

	if *file == "" {
		log.Fatal("FATAL: -file is required")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("FATAL: Required environment variable DATABASE_URL is not set")
	}

	store, err := db.Connect(dbURL)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	entries, skipped, err := readCatalog(*file, *sheet)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx := context.Background()
	saved := 0
	for _, entry := range entries {
		if err := store.UpsertEntry(ctx, entry); err != nil {
			log.Printf("Warning: upsert failed for %s / %s: %v", entry.MerchantName, entry.ProductName, err)
			continue
		}
		saved++
	}
	log.Printf("Seeded %d catalog entries (%d rows skipped)", saved, skipped)
}

func readCatalog(path, sheet string) (entries []models.CatalogEntry, skipped int, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) < 2 {
		return nil, 0, nil
	}

	cols := resolveColumns(rows[0])
	if cols["merchant"] < 0 || cols["amount"] < 0 {
		log.Fatalf("FATAL: sheet %q needs at least merchant and amount columns, got header %v", sheet, rows[0])
	}

	for _, row := range rows[1:] {
		merchant := cell(row, cols["merchant"])
		amountMinor, ok := parseAmountMinor(cell(row, cols["amount"]))
		if merchant == "" || !ok {
			skipped++
			continue
		}

		product := cell(row, cols["product"])
		if product == "" {
			product = "Standard"
		}
		currency := strings.ToUpper(cell(row, cols["currency"]))
		if currency == "" {
			currency = "GBP"
		}

		entries = append(entries, models.CatalogEntry{
			MerchantName:     merchant,
			ProductName:      product,
			AmountMinor:      amountMinor,
			Currency:         currency,
			RecurrencePeriod: strings.ToLower(cell(row, cols["recurrence"])),
			Category:         strings.ToLower(cell(row, cols["category"])),
			IsVerified:       true,
			ConfidenceScore:  1.0,
		})
	}
	return entries, skipped, nil
}

func resolveColumns(header []string) map[string]int {
	cols := make(map[string]int, len(headerAliases))
	for key := range headerAliases {
		cols[key] = -1
	}
	for idx, name := range header {
		normalized := strings.ToLower(strings.TrimSpace(name))
		for key, aliases := range headerAliases {
			if cols[key] >= 0 {
				continue
			}
			for _, alias := range aliases {
				if normalized == alias {
					cols[key] = idx
					break
				}
			}
		}
	}
	return cols
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parseAmountMinor turns "£9.99", "9.99" or "1,299.00" into integer minor
// units.
func parseAmountMinor(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "£$€ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	major, err := strconv.ParseFloat(s, 64)
	if err != nil || major < 0 {
		return 0, false
	}
	return int64(math.Round(major * 100)), true
}
