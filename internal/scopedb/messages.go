package scopedb

import "time"

// The composite types used for messages to the ClickHouse database. These
// record operational metadata only, never sample data.

// ActivityMessage is the information for the scopeactivity table: one row
// per server process lifetime.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the
// acquisitionruns table: the configuration and duration of one
// start-to-stop acquisition run.
type RunMessage struct {
	ID         string
	ServerID   string
	Nchannels  int
	NSamples   int
	TimeRange  float64
	TickPeriod time.Duration
	Codec      string
	Start      time.Time
	End        time.Time
}
