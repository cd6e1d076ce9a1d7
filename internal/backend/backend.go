// Package backend fetches parcel geometries from the parcel web service,
// or from one of its stand-ins (a directory of GeoJSON files or an S3
// bucket holding the same files).
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when the requested parcel or farm does not exist.
var ErrNotFound = errors.New("backend: not found")

// Auth is forwarded to the parcel service untouched.
type Auth struct {
	Role  string `json:"role,omitempty" doc:"Role of the caller" example:"user"`
	Token string `json:"token,omitempty" doc:"Access token" example:"ABCD"`
}

// SaveRequest carries a parcel geometry back to the service. Geometry is
// in EPSG:4326.
type SaveRequest struct {
	ID       string           `json:"id"`
	FarmID   string           `json:"farmId"`
	ParcelID string           `json:"parcelId"`
	Feature  *geojson.Feature `json:"feature"`
	Area     float64          `json:"area"`
	AreaSau  float64          `json:"areaSau"`
}

// Backend is the parcel service as seen by the map controller. All
// geometries are GeoJSON in EPSG:4326.
type Backend interface {
	// Parcel returns the collection holding a single parcel.
	Parcel(ctx context.Context, auth Auth, farmID, parcelID string) (*geojson.FeatureCollection, error)
	// Parcels returns every parcel of a farm.
	Parcels(ctx context.Context, auth Auth, farmID string) (*geojson.FeatureCollection, error)
	// SaveParcel stores an edited parcel.
	SaveParcel(ctx context.Context, auth Auth, req SaveRequest) error
}

// Open picks a backend from a URL:
//
//	http://..., https://...   parcel web service
//	s3://bucket/prefix        GeoJSON objects in S3
//	file:///dir or a path     GeoJSON files on disk
func Open(ctx context.Context, rawURL string) (Backend, error) {
	fields := logrus.Fields{"url": rawURL}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}

	var b Backend
	switch u.Scheme {
	case "http", "https":
		fields["backend"] = "http"
		b = NewHTTPBackend(rawURL, nil)
	case "s3":
		fields["backend"] = "s3"
		b, err = NewS3Backend(ctx, S3Config{
			Bucket: u.Host,
			Prefix: strings.TrimPrefix(u.Path, "/"),
			Region: u.Query().Get("region"),
			// endpoint and path-style are for S3-compatible stores such as MinIO
			Endpoint:  u.Query().Get("endpoint"),
			PathStyle: u.Query().Get("path_style") == "true",
		})
		if err != nil {
			return nil, err
		}
	case "file":
		fields["backend"] = "file"
		b = NewFileBackend(u.Path)
	case "":
		fields["backend"] = "file"
		b = NewFileBackend(rawURL)
	default:
		return nil, fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}

	logrus.WithFields(fields).Info("Use parcel backend")
	return b, nil
}

// parcelKeys lists the candidate resource names for a parcel, most
// specific first. The generic names are the original demo resources.
func parcelKeys(farmID, parcelID string) []string {
	return []string{
		fmt.Sprintf("farms/%s/parcels/%s.geojson", farmID, parcelID),
		"parcel.geojson",
	}
}

func parcelsKeys(farmID string) []string {
	return []string{
		fmt.Sprintf("farms/%s/parcels.geojson", farmID),
		"parcels.geojson",
	}
}

func savedKey(farmID, parcelID, id string) string {
	return fmt.Sprintf("farms/%s/saved/%s/%s.geojson", farmID, parcelID, id)
}

// decodeCollection accepts a FeatureCollection or a single Feature.
func decodeCollection(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil && fc.Type == "FeatureCollection" {
		return fc, nil
	}
	f, ferr := geojson.UnmarshalFeature(data)
	if ferr != nil {
		if err != nil {
			return nil, fmt.Errorf("parsing geojson: %w", err)
		}
		return nil, fmt.Errorf("parsing geojson: %w", ferr)
	}
	fc = geojson.NewFeatureCollection()
	fc.Append(f)
	return fc, nil
}

// saveDocument wraps the saved feature with the computed areas.
func saveDocument(req SaveRequest) ([]byte, error) {
	f := req.Feature
	if f == nil {
		return nil, fmt.Errorf("save request without feature")
	}
	clone := geojson.NewFeature(f.Geometry)
	clone.ID = req.ParcelID
	for k, v := range f.Properties {
		clone.Properties[k] = v
	}
	clone.Properties["saveId"] = req.ID
	clone.Properties["farmId"] = req.FarmID
	clone.Properties["area"] = req.Area
	clone.Properties["areaSau"] = req.AreaSau
	return clone.MarshalJSON()
}
