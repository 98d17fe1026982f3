// Package output renders averages query results.
//
// Every formatter implements Formatter and writes groups in ascending
// passenger count order.
//
// # Supported Formats
//
//   - text: "passenger_count: 1 => mean trip distance: 3.75" per group
//   - json: JSON Lines, one object per group
//   - csv: header row then one row per group
//   - table: aligned ASCII table
//   - yaml: a sequence of mappings
//
// # Basic Usage
//
//	formatter, err := output.NewFormatter("csv", os.Stdout)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := formatter.Format(results); err != nil {
//	    log.Fatal(err)
//	}
//
// # Writing to Different Destinations
//
// Change output destination dynamically:
//
//	var buf bytes.Buffer
//	formatter.SetOutput(&buf)
package output
