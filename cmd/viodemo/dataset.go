package main

import (
	"encoding/csv"
	"image"
	"image/color"
	_ "image/jpeg" // decode formats a recorded dataset might use
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// imuRecord is one line of an EuRoC-style imu0.csv: timestamp in nanoseconds followed by
// angular velocity then linear acceleration, the ordering the EuRoC MAV dataset (the de facto
// reference dataset for this class of estimator) ships its IMU CSVs in.
type imuRecord struct {
	t        float64 // seconds
	gyr, acc r3.Vector
}

// imageRecord is one line of a camN/data.csv: timestamp in nanoseconds and the image's filename
// relative to the csv's own directory.
type imageRecord struct {
	t    float64
	path string
}

// loadIMUCSV reads a timestamp,wx,wy,wz,ax,ay,az CSV, skipping a leading header row if present.
func loadIMUCSV(path string) ([]imuRecord, error) {
	rows, err := readCSVRows(path, 7)
	if err != nil {
		return nil, errors.Wrapf(err, "viodemo: reading imu csv %q", path)
	}
	out := make([]imuRecord, 0, len(rows))
	for _, row := range rows {
		vals, err := parseFloats(row)
		if err != nil {
			continue // header row or malformed line
		}
		out = append(out, imuRecord{
			t:   vals[0] * 1e-9,
			gyr: r3.Vector{X: vals[1], Y: vals[2], Z: vals[3]},
			acc: r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].t < out[j].t })
	return out, nil
}

// loadImageCSV reads a timestamp,filename CSV; image paths are resolved relative to dataDir.
func loadImageCSV(path, dataDir string) ([]imageRecord, error) {
	rows, err := readCSVRows(path, 2)
	if err != nil {
		return nil, errors.Wrapf(err, "viodemo: reading image csv %q", path)
	}
	out := make([]imageRecord, 0, len(rows))
	for _, row := range rows {
		tNanos, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			continue // header row
		}
		out = append(out, imageRecord{t: tNanos * 1e-9, path: filepath.Join(dataDir, strings.TrimSpace(row[1]))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].t < out[j].t })
	return out, nil
}

func readCSVRows(path string, minFields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) < minFields {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseFloats(row []string) ([]float64, error) {
	out := make([]float64, len(row))
	for i, s := range row {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// loadGray decodes an image file to grayscale, converting if the source is color.
func loadGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "viodemo: decoding %q", path)
	}
	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray, nil
}
