package catalog

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) (http.Handler, *harness) {
	t.Helper()

	h := newHarness(t)
	svc := &Service{
		writer:    h.writer,
		records:   h.records,
		artifacts: h.artifacts,
		config:    Config{ServiceName: "system-image", DownloadTTL: time.Minute},
		logger:    log.New(io.Discard, "", 0),
	}
	router, err := svc.Routes()
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}
	return router, h
}

func multipartBody(t *testing.T, fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			t.Fatalf("WriteField(%q) error = %v", key, err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func decodeImage(t *testing.T, rec *httptest.ResponseRecorder) SystemImage {
	t.Helper()
	var image SystemImage
	if err := json.NewDecoder(rec.Body).Decode(&image); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return image
}

func TestHandleCreateImage(t *testing.T) {
	router, h := newTestService(t)

	body, contentType := multipartBody(t, map[string]string{
		"name":        "Ubuntu 22.04 LTS",
		"os_type":     "ubuntu-22.04",
		"version":     "22.04",
		"description": "long term support",
	}, "ubuntu.iso", []byte("iso bytes"))

	req := httptest.NewRequest(http.MethodPost, "/system-images", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusCreated, rec.Body)
	}

	image := decodeImage(t, rec)
	if image.Name != "Ubuntu 22.04 LTS" || image.OSType != "ubuntu-22.04" || image.Version != "22.04" {
		t.Errorf("unexpected image: %+v", image)
	}
	if image.Description == nil || *image.Description != "long term support" {
		t.Error("description not persisted")
	}
	if image.ArtifactRef == nil {
		t.Fatal("ArtifactRef is nil, want stored reference")
	}
	if got := h.artifacts.stored[*image.ArtifactRef]; !bytes.Equal(got, []byte("iso bytes")) {
		t.Errorf("stored artifact = %q, want upload bytes", got)
	}
}

func TestHandleCreateImageValidation(t *testing.T) {
	router, h := newTestService(t)

	form := url.Values{"os_type": {"ubuntu-22.04"}, "version": {"22.04"}}
	req := httptest.NewRequest(http.MethodPost, "/system-images", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(h.records.images) != 0 {
		t.Error("record persisted despite validation failure")
	}
}

func TestHandleGetImage(t *testing.T) {
	router, h := newTestService(t)
	created := h.seed(t, SystemImage{Name: "Ubuntu", OSType: "ubuntu-22.04", Version: "22.04"})

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/system-images/1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeImage(t, rec); got.ID != created.ID || got.Name != created.Name {
			t.Errorf("image = %+v, want %+v", got, created)
		}
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/system-images/999", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("bad id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/system-images/not-a-number", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestHandleUpdateImagePartial(t *testing.T) {
	router, h := newTestService(t)
	created := h.seed(t, SystemImage{Name: "Ubuntu", OSType: "ubuntu-22.04", Version: "22.04"})

	form := url.Values{"version": {"22.04.1"}}
	req := httptest.NewRequest(http.MethodPut, "/system-images/1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}
	image := decodeImage(t, rec)
	if image.Version != "22.04.1" {
		t.Errorf("Version = %q, want %q", image.Version, "22.04.1")
	}
	if image.Name != created.Name {
		t.Error("name changed on a version-only update")
	}
}

func TestHandleUpdateImageRemoveFlag(t *testing.T) {
	router, h := newTestService(t)
	ref := "system-images/abc_ubuntu.iso"
	h.artifacts.stored[ref] = []byte("iso")
	h.seed(t, SystemImage{Name: "Ubuntu", OSType: "ubuntu-22.04", Version: "22.04", ArtifactRef: strPtr(ref)})

	form := url.Values{"remove_image": {"true"}}
	req := httptest.NewRequest(http.MethodPut, "/system-images/1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}
	if image := decodeImage(t, rec); image.ArtifactRef != nil {
		t.Errorf("ArtifactRef = %q, want nil", *image.ArtifactRef)
	}
	if _, ok := h.artifacts.stored[ref]; ok {
		t.Error("artifact still stored after remove_image=true")
	}
}

func TestHandleDeleteImage(t *testing.T) {
	router, h := newTestService(t)
	h.seed(t, SystemImage{Name: "Ubuntu", OSType: "ubuntu-22.04", Version: "22.04"})

	req := httptest.NewRequest(http.MethodDelete, "/system-images/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(h.records.images) != 0 {
		t.Error("record still present after delete")
	}

	req = httptest.NewRequest(http.MethodDelete, "/system-images/1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleSearchImages(t *testing.T) {
	router, h := newTestService(t)
	h.seed(t, SystemImage{Name: "Ubuntu 22.04 LTS", OSType: "ubuntu-22.04", Version: "22.04"})
	h.seed(t, SystemImage{Name: "Debian 12", OSType: "debian-12", Version: "12"})

	req := httptest.NewRequest(http.MethodGet, "/system-images/search/ubuntu", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var images []SystemImage
	if err := json.NewDecoder(rec.Body).Decode(&images); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(images) != 1 || images[0].Name != "Ubuntu 22.04 LTS" {
		t.Errorf("images = %+v, want the single Ubuntu entry", images)
	}
}

func TestHandleImagesByOSType(t *testing.T) {
	router, h := newTestService(t)
	h.seed(t, SystemImage{Name: "Ubuntu 22.04 LTS", OSType: "ubuntu-22.04", Version: "22.04"})
	h.seed(t, SystemImage{Name: "Debian 12", OSType: "debian-12", Version: "12"})

	req := httptest.NewRequest(http.MethodGet, "/system-images/os-type/debian-12", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var images []SystemImage
	if err := json.NewDecoder(rec.Body).Decode(&images); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(images) != 1 || images[0].OSType != "debian-12" {
		t.Errorf("images = %+v, want the single Debian entry", images)
	}
}

func TestHandleArtifactURL(t *testing.T) {
	router, h := newTestService(t)
	ref := "system-images/abc_ubuntu.iso"
	h.seed(t, SystemImage{Name: "Ubuntu", OSType: "ubuntu-22.04", Version: "22.04", ArtifactRef: strPtr(ref)})
	h.seed(t, SystemImage{Name: "Debian", OSType: "debian-12", Version: "12"})

	t.Run("with artifact", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/system-images/1/artifact", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		var out map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if out["url"] != "https://example.test/"+ref {
			t.Errorf("url = %q", out["url"])
		}
	})

	t.Run("without artifact", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/system-images/2/artifact", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	router, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["status"] != "UP" || out["service"] != "system-image" {
		t.Errorf("health payload = %v", out)
	}
}
