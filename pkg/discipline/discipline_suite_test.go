package discipline

//go:generate mockgen -destination "mock_dac_test.go" -package $GOPACKAGE -write_package_comment=false github.com/shiwa/timecard-mini/gpsdo/internal/dac Driver
//go:generate mockgen -destination "mock_monitor_test.go" -package $GOPACKAGE -write_package_comment=false github.com/shiwa/timecard-mini/gpsdo/internal/monitor Monitor
//go:generate mockgen -destination "mock_telemetry_test.go" -package $GOPACKAGE -write_package_comment=false github.com/shiwa/timecard-mini/gpsdo/internal/telemetry Emitter
//go:generate mockgen -destination "mock_capture_test.go" -package $GOPACKAGE -write_package_comment=false -source loop.go
