// Command cryptotax normalizes per-exchange transaction exports into a
// canonical ledger and computes realized capital-gain/loss and income
// events against it. Built on cobra/viper, structured the way
// penny-vault-pv-data's cmd package is.
package main

import "os"

func main() {
	os.Exit(Execute())
}
