package config

var programVersion = "1.2.0"

// GetProgramVersion returns the current version of the program
func GetProgramVersion() string {
	return programVersion
}
