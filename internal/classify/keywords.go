package classify

// DefaultTables returns the built-in keyword tables. The lists are
// configuration data; deployments override them with a YAML file via
// classify.keywords_path.
func DefaultTables() Tables {
	return Tables{
		PublicFacing: []string{
			"university", "school", "college", "hospital", "medical center",
			"medical group", "clinic", "health system", "foundation",
			"charitable foundation", "donor-advised", "museum", "library",
			"public charity", "community clinic", "cooperative", "authority",
			"transit", "power", "water", "church", "temple", "synagogue",
			"ministry", "mission", "food bank", "shelter", "community center",
			"ymca", "ywca", "boys club", "girls club", "scouts",
			"fire department", "rescue", "ambulance",
		},
		NonPublicFacing: []string{
			"veba", "benefit", "benefits", "plan", "master trust", "retire",
			"retirees", "postretirement", "post-retirement", "insurance",
			"reinsurance", "sick leave", "vacation trust", "life insurance",
			"disability", "apprenticeship", "training trust", "teamsters",
			"ibew", "operating engineers", "laborers", "carpenters",
			"sheet metal", "plumbers", "electrical workers", "security fund",
			"trust fund", "health & welfare", "health and welfare",
			"welfare fund", "pension", "annuity", "401k", "defined benefit",
		},
	}
}
