// Package config loads compositor-probe settings with viper and builds the
// zap logger and loopback engine options they describe.
//
// Keys, defaults and their environment overrides:
//
//	engine.notification_queue  64      COMPOSITION_ENGINE_NOTIFICATION_QUEUE
//	engine.refresh_rate        60      COMPOSITION_ENGINE_REFRESH_RATE
//	engine.tier                2       COMPOSITION_ENGINE_TIER
//	engine.max_texture_size    8192    COMPOSITION_ENGINE_MAX_TEXTURE_SIZE
//	engine.sync_mode           false   COMPOSITION_ENGINE_SYNC_MODE
//	engine.sync_flush_timeout  5s      COMPOSITION_ENGINE_SYNC_FLUSH_TIMEOUT
//	log.level                  info    COMPOSITION_LOG_LEVEL
//	log.encoding               console COMPOSITION_LOG_ENCODING
//	log.development            false   COMPOSITION_LOG_DEVELOPMENT
//
// COMPOSITION_CONFIG names the YAML file when none is passed to Load.
package config
