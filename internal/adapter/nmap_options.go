package adapter

// NmapOption is a functional option for configuring NmapScanner
type NmapOption func(*NmapScanner)

// WithBinaryPath points at a specific nmap executable instead of $PATH
func WithBinaryPath(path string) NmapOption {
	return func(s *NmapScanner) {
		s.binaryPath = path
	}
}

// WithServiceDetection enables or disables service version detection (-sV)
func WithServiceDetection(enabled bool) NmapOption {
	return func(s *NmapScanner) {
		s.serviceDetection = enabled
	}
}

// WithConnectScan toggles TCP connect scanning (-sT). Disabling it lets
// nmap pick its default, which is a SYN scan when run as root.
func WithConnectScan(enabled bool) NmapOption {
	return func(s *NmapScanner) {
		s.connectScan = enabled
	}
}
