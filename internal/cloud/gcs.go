// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"fmt"
	"strings"
)

// GetGCSObjectName is the context key under which trigger workflows store the
// originating *GCSObject.
func GetGCSObjectName() string {
	return "__GCS__OBJ__"
}

// GCSPubSubNotification is the JSON payload of a GCS object notification.
type GCSPubSubNotification struct {
	Kind                    string         `json:"kind"`
	ID                      string         `json:"id"`
	SelfLink                string         `json:"selfLink"`
	Name                    string         `json:"name"`
	Bucket                  string         `json:"bucket"`
	Generation              string         `json:"generation"`
	MetaGeneration          string         `json:"metageneration"`
	ContentType             string         `json:"contentType"`
	TimeCreated             string         `json:"timeCreated"`
	Updated                 string         `json:"updated"`
	StorageClass            string         `json:"storageClass"`
	TimeStorageClassUpdated string         `json:"timeStorageClassUpdated"`
	Size                    string         `json:"size"`
	MD5Hash                 string         `json:"md5Hash"`
	MediaLink               string         `json:"mediaLink"`
	MetaData                map[string]any `json:"metadata"`
	Crc32c                  string         `json:"crc32c"`
	ETag                    string         `json:"etag"`
}

// GCSObject identifies an object in Cloud Storage.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
	// Metadata carries the object's custom metadata; reframe triggers read
	// their per-object options from it.
	Metadata map[string]string
}

// URI returns the gs:// form of the object.
func (o *GCSObject) URI() string {
	return GCSURI(o.Bucket, o.Name)
}

func GCSURI(bucket string, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, name)
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket string, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid GCS URI %q: missing gs:// scheme", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URI %q: expected gs://bucket/object", uri)
	}
	return bucket, object, nil
}
