package query

import (
	"fmt"
	"time"

	"github.com/vegasq/tripmean/expr"
)

// Columns names the dataset columns the averages query reads.
type Columns struct {
	Pickup  string `mapstructure:"pickup"`
	Dropoff string `mapstructure:"dropoff"`
	Group   string `mapstructure:"group"`
	Measure string `mapstructure:"measure"`
}

// DefaultColumns are the NYC TLC yellow taxi column names.
var DefaultColumns = Columns{
	Pickup:  "tpep_pickup_datetime",
	Dropoff: "tpep_dropoff_datetime",
	Group:   "passenger_count",
	Measure: "trip_distance",
}

// Projection returns the columns the scan materializes, in order.
func (c Columns) Projection() []string {
	return []string{c.Pickup, c.Dropoff, c.Group, c.Measure}
}

// Validate checks that every column is named.
func (c Columns) Validate() error {
	for _, col := range []struct{ role, name string }{
		{"pickup", c.Pickup},
		{"dropoff", c.Dropoff},
		{"group", c.Group},
		{"measure", c.Measure},
	} {
		if col.name == "" {
			return fmt.Errorf("%w: empty %s column", ErrInvalidArgument, col.role)
		}
	}
	return nil
}

// TimeFilter builds the trip time predicate:
//
//	start and end:  pickup >= start and dropoff <= end
//	start only:     pickup >= start
//	end only:       dropoff <= end
//
// Both bounds are inclusive. Without bounds it returns ErrInvalidArgument.
func (c Columns) TimeFilter(start, end *time.Time) (expr.Expr, error) {
	switch {
	case start != nil && end != nil:
		return expr.And(
			expr.GreaterEqual(expr.Field(c.Pickup), expr.Lit(start.UTC())),
			expr.LessEqual(expr.Field(c.Dropoff), expr.Lit(end.UTC())),
		), nil
	case start != nil:
		return expr.GreaterEqual(expr.Field(c.Pickup), expr.Lit(start.UTC())), nil
	case end != nil:
		return expr.LessEqual(expr.Field(c.Dropoff), expr.Lit(end.UTC())), nil
	default:
		return nil, fmt.Errorf("%w: time filter needs a start or an end", ErrInvalidArgument)
	}
}

// BuildTimeFilter is TimeFilter over DefaultColumns.
func BuildTimeFilter(start, end *time.Time) (expr.Expr, error) {
	return DefaultColumns.TimeFilter(start, end)
}
