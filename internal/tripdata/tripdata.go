// Package tripdata writes Parquet files shaped like NYC TLC yellow taxi
// trip records. It backs the test fixtures and the sample data generator.
package tripdata

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Trip is one row of a yellow taxi trip file, reduced to the columns the
// averages query reads plus a vendor id.
type Trip struct {
	VendorID       int32     `parquet:"VendorID"`
	Pickup         time.Time `parquet:"tpep_pickup_datetime"`
	Dropoff        time.Time `parquet:"tpep_dropoff_datetime"`
	PassengerCount *float64  `parquet:"passenger_count,optional"`
	TripDistance   float64   `parquet:"trip_distance"`
}

// Passengers returns a pointer suitable for Trip.PassengerCount.
func Passengers(n float64) *float64 {
	return &n
}

// Write creates path and writes one row group per group.
func Write(path string, groups ...[]Trip) error {
	return write(path, groups)
}

// WriteRows is Write for arbitrary row types, used for files that do not
// follow the trip layout.
func WriteRows[T any](path string, groups ...[]T) error {
	return write(path, groups)
}

func write[T any](path string, groups [][]T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	writer := parquet.NewGenericWriter[T](f)
	for _, rows := range groups {
		if _, err := writer.Write(rows); err != nil {
			return fmt.Errorf("failed to write rows: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush row group: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return f.Close()
}

// Scenario returns the four trips of 2020-08-01 used across the tests:
//
//	pickup 00:20 dropoff 00:45 passengers 1 distance 2.5
//	pickup 00:21 dropoff 00:44 passengers 1 distance 5
//	pickup 00:25 dropoff 00:46 passengers 2 distance 5
//	pickup 00:26 dropoff 00:43 passengers 2 distance 10
func Scenario() []Trip {
	at := func(min int) time.Time {
		return time.Date(2020, 8, 1, 0, min, 0, 0, time.UTC)
	}
	return []Trip{
		{VendorID: 1, Pickup: at(20), Dropoff: at(45), PassengerCount: Passengers(1), TripDistance: 2.5},
		{VendorID: 2, Pickup: at(21), Dropoff: at(44), PassengerCount: Passengers(1), TripDistance: 5},
		{VendorID: 1, Pickup: at(25), Dropoff: at(46), PassengerCount: Passengers(2), TripDistance: 5},
		{VendorID: 2, Pickup: at(26), Dropoff: at(43), PassengerCount: Passengers(2), TripDistance: 10},
	}
}
