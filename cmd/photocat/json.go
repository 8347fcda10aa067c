package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/kk-code-lab/photocat/internal/ops"
)

// printReport emits the ops report either as indented JSON for automation or
// as a single key=value summary line.
func printReport(r *ops.Report, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	log.Printf("mode=%s schema=%d categories=%d photos=%d deleted=%d ledger=%d archives=%d compacted=%d crypto_ok=%t errors=%d",
		r.Mode, r.SchemaVersion, r.Categories, r.ActivePhotos, r.DeletedPhotos,
		r.LedgerRecords, r.Archives, r.Compacted, r.CryptoOK, r.Errors)
	for _, sample := range r.ErrorSample {
		log.Printf("error sample: %s", sample)
	}
	return nil
}
