package app

import "github.com/contentbridge/adaptor/config"

// DeclareKeys registers every config key the framework's own components
// read (§6 "Configuration file"), with the defaults, required-ness, and
// enumerations validate() checks. An adaptor-specific cmd/adaptor main
// may declare additional keys of its own before calling cfg.Load.
func DeclareKeys(cfg *config.Config) error {
	type def struct {
		name     string
		def      string
		hasDef   bool
		required bool
		enum     []string
	}
	defs := []def{
		{name: "gsa.hostname", required: true},
		{name: "gsa.admin.hostname"},
		{name: "gsa.version", def: "7.4.0", hasDef: true},
		{name: "gsa.scoringType", def: "content", hasDef: true, enum: []string{"content", "web"}},
		{name: "feed.name", required: true},
		{name: "feed.maxUrls", def: "5000", hasDef: true},
		{name: "feed.compress", def: "false", hasDef: true},
		{name: "feed.archive.bucket"},
		{name: "server.port", def: "5103", hasDef: true},
		{name: "server.dashboardPort", def: "5104", hasDef: true},
		{name: "server.secure", def: "false", hasDef: true, enum: []string{"true", "false"}},
		{name: "server.hostname", required: true},
		{name: "server.fullAccessHosts"},
		{name: "adaptor.fullListingSchedule"},
		{name: "adaptor.incrementalListingSchedule"},
		{name: "adaptor.pushDocIdsOnStartup", def: "false", hasDef: true},
		{name: "adaptor.markAllDocsAsPublic", def: "false", hasDef: true},
		{name: "adaptor.useragent.indexer", def: "gsa-crawler", hasDef: true},
		{name: "adaptor.useragent.secmgr", def: "SecMgr", hasDef: true},
		{name: "transform.pipeline"},
		{name: "metadata.transform.pipeline"},
		{name: "session.redis.addr"},
		{name: "session.ttlSeconds", def: "600", hasDef: true},
		{name: "saml.sp.entityId"},
		{name: "saml.sp.privateKeyFile"},
		{name: "saml.idp.entityId"},
		{name: "saml.idp.ssoUrl"},
		{name: "saml.idp.artifactResolveUrl"},
		{name: "journal.postgresDsn"},
		{name: "feed.port", def: "19900", hasDef: true},
		{name: "header.timeoutSeconds", def: "30", hasDef: true},
		{name: "content.timeoutSeconds", def: "300", hasDef: true},
		{name: "async.queueSize", def: "1000", hasDef: true},
		{name: "async.maxBatch", def: "50", hasDef: true},
		{name: "async.maxLatencySeconds", def: "5", hasDef: true},
		{name: "adaptor.heartbeatDocId", def: "heartbeat", hasDef: true},
		{name: "log.level", def: "info", hasDef: true},
	}
	for _, d := range defs {
		if err := cfg.AddKey(d.name, d.def, d.hasDef, nil); err != nil {
			return err
		}
		if d.required {
			if err := cfg.RequireKey(d.name); err != nil {
				return err
			}
		}
		if len(d.enum) > 0 {
			if err := cfg.RequireEnum(d.name, d.enum...); err != nil {
				return err
			}
		}
	}
	return nil
}
