package storage

// Settings are the durable per-user generation preferences. They survive
// session resets.
type Settings struct {
	Model            string `bson:"model" json:"model"`
	AspectRatio      string `bson:"aspect_ratio" json:"aspect_ratio"`
	Resolution       string `bson:"resolution" json:"resolution"`
	ImagesPerRequest int    `bson:"images_per_prompt" json:"images_per_prompt"`
}

func DefaultSettings() Settings {
	return Settings{
		Model:            "flash",
		AspectRatio:      "1:1",
		Resolution:       "1K",
		ImagesPerRequest: 1,
	}
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	Model            *string
	AspectRatio      *string
	Resolution       *string
	ImagesPerRequest *int
}

// ClampImageCount keeps the per-request image count inside [1, 4].
// Out-of-range values are clamped, never rejected.
func ClampImageCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > 4 {
		return 4
	}
	return n
}

type SettingsStorage interface {
	// GetSettings returns the stored settings, or the defaults for an
	// unknown user.
	GetSettings(userID int64) (Settings, error)
	UpdateSettings(userID int64, patch SettingsPatch) error
	Close() error
}
