package media

import (
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nfnt/resize"
	"github.com/seren-social/seren/internal/httpx"
	"github.com/seren-social/seren/models"
)

// Show serves a cached asset by its uuid. Image assets accept a
// ?width= parameter and are scaled down on the fly; everything else is
// served verbatim.
func Show(env *models.Env, root string, w http.ResponseWriter, r *http.Request) error {
	uuid := chi.URLParam(r, "uuid")
	var item models.CacheItem
	if err := env.DB.Where("uuid = ?", uuid).Take(&item).Error; err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	if !item.Downloaded() {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("asset %s is not downloaded", uuid))
	}
	path := filepath.Join(root, *item.Path)

	width := parseWidth(r)
	if width > 0 && strings.HasPrefix(item.MediaType, "image/") && item.Width > width {
		return showResized(w, path, width)
	}

	f, err := os.Open(path)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	defer f.Close()
	w.Header().Set("Content-Type", item.MediaType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, item.UUID, item.UpdatedAt, f)
	return nil
}

func showResized(w http.ResponseWriter, path string, width int) error {
	f, err := os.Open(path)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return httpx.Error(http.StatusUnprocessableEntity, err)
	}
	scaled := resize.Resize(uint(width), 0, img, resize.Lanczos3)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return jpeg.Encode(w, scaled, &jpeg.Options{Quality: 85})
}

func parseWidth(r *http.Request) int {
	width, err := strconv.Atoi(r.URL.Query().Get("width"))
	if err != nil || width < 0 {
		return 0
	}
	return width
}
