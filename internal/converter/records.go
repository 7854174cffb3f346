package converter

// Record is one table row keyed by header.
type Record map[string]string

// Records converts rows into records using headers as keys. Cells beyond
// the header row are dropped and missing cells become "".
func Records(headers []string, rows [][]string) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}

// Filter returns the records whose field equals value.
func Filter(records []Record, field, value string) []Record {
	var out []Record
	for _, rec := range records {
		if rec[field] == value {
			out = append(out, rec)
		}
	}
	return out
}
