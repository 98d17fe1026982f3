package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/vegasq/tripmean/internal/tripdata"
)

const (
	days        = 31
	tripsPerDay = 2000
)

// Writes yellow_tripdata_2020-08.parquet with one row group per day.
func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	r := rand.New(rand.NewSource(2020))

	groups := make([][]tripdata.Trip, days)
	for d := range groups {
		day := time.Date(2020, 8, d+1, 0, 0, 0, 0, time.UTC)
		trips := make([]tripdata.Trip, tripsPerDay)
		for i := range trips {
			pickup := day.Add(time.Duration(r.Int63n(int64(24 * time.Hour))))
			trips[i] = tripdata.Trip{
				VendorID:     int32(1 + r.Intn(2)),
				Pickup:       pickup,
				Dropoff:      pickup.Add(time.Duration(60+r.Intn(3600)) * time.Second),
				TripDistance: float64(r.Intn(2000)) / 100,
			}
			// Some trips have no passenger count
			if r.Intn(20) != 0 {
				trips[i].PassengerCount = tripdata.Passengers(float64(1 + r.Intn(6)))
			}
		}
		groups[d] = trips
	}

	const name = "yellow_tripdata_2020-08.parquet"
	if err := tripdata.Write(name, groups...); err != nil {
		level.Error(logger).Log("msg", "failed to generate sample data", "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "generated sample data", "file", name, "row_groups", days, "trips", days*tripsPerDay)
}
