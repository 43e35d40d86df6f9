package safety

import "github.com/antler-hat/devolume/pkg/lib"

// builtinDescriptors is ordered: the fuzzy fallback returns the first entry
// with a prefix match, so earlier entries win ties.
var builtinDescriptors = []lib.ProcessDescriptor{
	{
		Names:    []string{"photos", "photos.app"},
		Category: "Apple Photos app",
		Safety:   lib.SafetySafe,
		Notes:    "Ends photo library access. No data loss.",
	},
	{
		Names:    []string{"photoanalysisd", "photoanal", "photoanalysis"},
		Category: "Photos analysis daemon",
		Safety:   lib.SafetySafe,
		Notes:    "Handles face/object analysis. Non-destructive to stop.",
	},
	{
		Names:    []string{"mediaanalysisd", "mediaanal"},
		Category: "Media analysis daemon",
		Safety:   lib.SafetySafe,
		Notes:    "Indexes media metadata. Safe to stop; work will resume later.",
	},
	{
		Names:    []string{"photolibr", "photolibraryd"},
		Category: "Photo library service",
		Safety:   lib.SafetySafe,
		Notes:    "Manages local library sync. Safe to quit.",
	},
	{
		Names:    []string{"cloudphotosd", "cloudphot"},
		Category: "iCloud Photos sync",
		Safety:   lib.SafetySafe,
		Notes:    "Stops iCloud Photos syncing until it restarts.",
	},
	{
		Names:    []string{"cleanmymac", "cleanmymacx", "cleanmymac x", "cleanmyma"},
		Category: "CleanMyMac helper",
		Safety:   lib.SafetySafe,
		Notes:    "Cancels the current cleanup task without lasting effects.",
	},
	{
		Names:    []string{"spotlight", "mds", "mds_stores", "mdworker", "mdworker_shared"},
		Category: "Spotlight indexing",
		Safety:   lib.SafetySafe,
		Notes:    "Pauses indexing temporarily; the OS will restart it automatically.",
	},
	{
		Names:    []string{"tracker-miner-fs", "tracker-miner-f", "tracker-extract", "baloo_file"},
		Category: "Desktop search indexing",
		Safety:   lib.SafetySafe,
		Notes:    "Pauses file indexing; the session restarts it on demand.",
	},
	{
		Names:    []string{"preview"},
		Category: "Preview",
		Safety:   lib.SafetySafe,
		Notes:    "Closes open documents. No data loss beyond unsaved changes.",
	},
	{
		Names:    []string{"quicklookuiservice", "quicklookui"},
		Category: "Quick Look service",
		Safety:   lib.SafetySafe,
		Notes:    "Stops thumbnail generation. The OS will relaunch it if needed.",
	},
	{
		Names:    []string{"dropbox"},
		Category: "Cloud sync client",
		Safety:   lib.SafetySafe,
		Notes:    "Pauses Dropbox syncing until relaunched.",
	},
	{
		Names:    []string{"googledrive", "google drive"},
		Category: "Cloud sync client",
		Safety:   lib.SafetySafe,
		Notes:    "Pauses Google Drive syncing until relaunched.",
	},
	{
		Names:    []string{"onedrive"},
		Category: "Cloud sync client",
		Safety:   lib.SafetySafe,
		Notes:    "Pauses OneDrive syncing until relaunched.",
	},
	{
		Names:    []string{"bird"},
		Category: "iCloud Drive daemon",
		Safety:   lib.SafetySafe,
		Notes:    "Stops iCloud Drive syncing temporarily.",
	},
	{
		Names:    []string{"soagent"},
		Category: "CloudKit service",
		Safety:   lib.SafetySafe,
		Notes:    "Pauses CloudKit sync until the agent restarts.",
	},
	{
		Names:    []string{"messages", "imagent"},
		Category: "Messages",
		Safety:   lib.SafetySafe,
		Notes:    "Closes the Messages app or helper. Safe to reopen later.",
	},
	{
		Names:    []string{"finder"},
		Category: "Finder",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Finder restarts automatically, but quitting may disrupt user workflow.",
	},
	{
		Names:    []string{"backupd", "com.apple.timemachine"},
		Category: "Time Machine backup",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Interrupts Time Machine backups; risk of incomplete backup.",
	},
	{
		Names:    []string{"fsck"},
		Category: "Filesystem check",
		Safety:   lib.SafetyUnsafe,
		Notes:    "May interrupt disk repairs and risk corruption.",
	},
	{
		Names:    []string{"diskutil"},
		Category: "Disk utility task",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Stopping may leave disk operations incomplete.",
	},
	{
		Names:    []string{"cp", "mv", "rsync"},
		Category: "File transfer",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Stopping may interrupt file copy or sync operations.",
	},
	{
		Names:    []string{"finalcutpro"},
		Category: "Final Cut Pro",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Avoid quitting during editing or exports to prevent data loss.",
	},
	{
		Names:    []string{"logicpro"},
		Category: "Logic Pro",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Avoid quitting during editing or renders to prevent data loss.",
	},
	{
		Names:    []string{"premiere", "adobepremierepro"},
		Category: "Premiere Pro",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Avoid quitting during exports to prevent corruption.",
	},
	{
		Names:    []string{"kernel_task"},
		Category: "Core system process",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Critical system process. Never terminate.",
	},
	{
		Names:    []string{"windowserver"},
		Category: "Window manager",
		Safety:   lib.SafetyUnsafe,
		Notes:    "Quitting will log you out immediately.",
	},
}
