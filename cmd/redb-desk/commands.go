package main

// setupCommands initializes all commands and their relationships
func setupCommands() {
	// Profile management
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesAddCmd)
	profilesCmd.AddCommand(profilesShowCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)
	profilesCmd.AddCommand(profilesTestCmd)
	rootCmd.AddCommand(profilesCmd)

	// Operations against a saved profile
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(namespacesCmd)
	rootCmd.AddCommand(containersCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(commandCmd)

	// Streaming
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(consumeCmd)

	rootCmd.AddCommand(healthCmd)
}
