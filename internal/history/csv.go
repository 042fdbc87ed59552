package history

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/kjstillabower/weather-gateway/internal/models"
)

// csvHeaders matches the export column set of the query history download.
var csvHeaders = []string{
	"Query ID",
	"City Name",
	"Temperature",
	"Temperature Unit",
	"Feels Like",
	"Weather Description",
	"Humidity (%)",
	"Wind Speed",
	"Pressure (hPa)",
	"Served From Cache",
	"Caller",
	"Query Time",
	"Data Fetched At",
}

const csvTimeLayout = "2006-01-02 15:04:05"

// WriteCSV streams the filtered history to w as CSV, newest first.
func (r *Recorder) WriteCSV(w io.Writer, filter Filter) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders); err != nil {
		return err
	}
	for _, rec := range r.All(filter) {
		if err := cw.Write(csvRow(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(rec models.QueryRecord) []string {
	cached := "No"
	if rec.ServedFromCache {
		cached = "Yes"
	}
	caller := rec.CallerID
	if caller == "" {
		caller = "N/A"
	}
	return []string{
		strconv.FormatInt(rec.ID, 10),
		rec.Reading.CityName,
		strconv.FormatFloat(rec.Reading.Temperature, 'f', -1, 64),
		string(rec.Reading.Unit),
		strconv.FormatFloat(rec.Reading.FeelsLike, 'f', -1, 64),
		rec.Reading.Conditions,
		strconv.Itoa(rec.Reading.Humidity),
		strconv.FormatFloat(rec.Reading.WindSpeed, 'f', -1, 64),
		strconv.Itoa(rec.Reading.Pressure),
		cached,
		caller,
		rec.Timestamp.UTC().Format(csvTimeLayout),
		rec.Reading.ObservedAt.UTC().Format(csvTimeLayout),
	}
}
