// Command stationsimport builds the station gazetteer CSV consumed by the
// pipeline. It reads the public UK stations dataset (GeoJSON-style
// features with a CRS code, name and point coordinates) from a URL or a
// local file and writes station_coordinates.csv.
//
// Usage:
//
//	stationsimport [-url URL | -input stations.json] [-output station_coordinates.csv]
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

const defaultURL = "https://www.doogal.co.uk/UkStationsKML/?output=json"

type stationFeatures struct {
	Features []struct {
		Properties struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"features"`
}

func main() {
	url := flag.String("url", defaultURL, "Gazetteer JSON URL")
	input := flag.String("input", "", "Local JSON file (skips download)")
	output := flag.String("output", "station_coordinates.csv", "Output CSV path")
	flag.Parse()

	var r io.ReadCloser
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open input: %v\n", err)
			os.Exit(1)
		}
		r = f
	} else {
		client := &http.Client{Timeout: 60 * time.Second}
		resp, err := client.Get(*url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "download gazetteer: %v\n", err)
			os.Exit(1)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			fmt.Fprintf(os.Stderr, "download gazetteer: HTTP %d\n", resp.StatusCode)
			os.Exit(1)
		}
		r = resp.Body
	}
	defer func() { _ = r.Close() }()

	var data stationFeatures
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		fmt.Fprintf(os.Stderr, "decode gazetteer: %v\n", err)
		os.Exit(1)
	}

	out, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}

	w := csv.NewWriter(out)
	_ = w.Write([]string{"crs", "station_name", "longitude", "latitude"})

	written := 0
	skipped := 0
	for _, f := range data.Features {
		if f.Properties.Code == "" || f.Properties.Name == "" || len(f.Geometry.Coordinates) < 2 {
			skipped++
			continue
		}
		lon := f.Geometry.Coordinates[0]
		lat := f.Geometry.Coordinates[1]
		_ = w.Write([]string{
			f.Properties.Code,
			f.Properties.Name,
			strconv.FormatFloat(lon, 'f', -1, 64),
			strconv.FormatFloat(lat, 'f', -1, 64),
		})
		written++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "write CSV: %v\n", err)
		os.Exit(1)
	}
	if err := out.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d stations to %s (%d skipped)\n", written, *output, skipped)
}
