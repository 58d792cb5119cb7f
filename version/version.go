package version

// Version wird beim Release-Build ueberschrieben
var Version string = "0.0.0"
