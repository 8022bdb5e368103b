// autodiag collects diagnostic data from Azure Automation accounts:
// assets, runbooks, recent jobs and their output streams.
package main

func main() {
	Execute()
}
