package housekeeping

import "os"

func defaultBrokerEnviron() []string { return os.Environ() }
